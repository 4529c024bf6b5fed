// Package discovery implements mDNS/DNS-SD discovery of relay daemons.
//
// Relays advertise a single service type (_pairlink._tcp) so that hosts
// and companions on the same network can locate a relay without
// configuration. The instance name is the relay's display name.
//
// # TXT Records
//
// The advertisement carries two TXT keys: vn (protocol version as
// "major.minor", required) and nm (relay display name, optional).
// Browsers drop entries whose vn is missing, malformed, or announces an
// incompatible major version.
//
// # Browsing
//
// Browse aggregates results by instance name: a relay visible on several
// interfaces is reported once, with the addresses merged. FindFirst is a
// convenience for clients that just want any compatible relay:
//
//	browser, _ := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
//	ctx, cancel := context.WithTimeout(context.Background(), discovery.DefaultBrowseTimeout)
//	defer cancel()
//	relay, err := browser.FindFirst(ctx)
package discovery

// Package geo resolves network addresses to coarse location and threat
// attributes.
//
// Lookups go through a pluggable Provider and are cached per address. The
// resolver never returns provider errors to callers: private and loopback
// addresses map to the LocalNetwork sentinel (country "LOCAL") and failed
// lookups map to the Unknown sentinel (country "XX"). Both sentinels carry no
// risk signal.
//
// On top of resolution the package offers IP risk analysis (proxy, VPN, Tor and
// related flags, country mismatch, high-risk countries) and travel velocity
// between two addresses using haversine distance.
package geo

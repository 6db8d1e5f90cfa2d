// Package factory provides ready-made pool.Factory implementations for
// common resource kinds: plain TCP connections, I2P streaming connections
// dialed through a SAM bridge, and MySQL driver connections.
//
// Each factory validates its configuration up front and reports liveness
// through the probe protocol, so a pool can cache the probe and reuse it
// for every validation.
package factory

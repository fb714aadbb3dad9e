// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
kolibrid is a peer discovery and connection-health daemon written in Go.

It advertises the local device on the local network, discovers peer devices,
keeps a persistent record of every known peer location, and continuously
tracks each peer's reachability with exponential retry backoff.  Registered
observers are notified whenever a peer becomes reachable or stops being
reachable.

The default options are sane for most users.  The long form of all options
(except -C) can be specified in a configuration file that is automatically
parsed when kolibrid starts up.  By default, the configuration file is
located at ~/.kolibrid/kolibrid.conf on POSIX-style operating systems and
%LOCALAPPDATA%\Kolibrid\kolibrid.conf on Windows.  The -C (--configfile)
flag, as shown below, can be used to override this location.

Usage:

	kolibrid [OPTIONS]

Application Options:

	-V, --version          Display version information and exit
	-A, --appdata=         Path to application home directory
	-C, --configfile=      Path to configuration file
	-b, --datadir=         Directory to store data
	    --logdir=          Directory to log output
	    --nofilelogging    Disable file logging
	    --baseurl=         Base URL peers should use to reach this device
	                       (required unless --nobroadcast)
	    --devicename=      Human-readable name to advertise for this device
	    --listen=          Serve the device info endpoint for peers on the
	                       given address (eg. :8080)
	    --nobroadcast      Disable local-network advertisement and peer
	                       discovery
	    --aliveinterval=   Interval between repeated presence announcements
	                       on the local network
	    --peer=            Base URL of a static peer to keep probing (may be
	                       specified multiple times)
	    --probetimeout=    Maximum duration a single peer probe may take
	    --proxy=           Route peer probes through a SOCKS5 proxy
	                       (eg. 127.0.0.1:9050)
	    --proxyuser=       Username for proxy server
	    --proxypass=       Password for proxy server
	    --subsetofusers    Declare this device as holding data for a
	                       restricted subset of users only
	    --workers=         Number of concurrent job workers
	    --profile=         Enable HTTP profiling on given [addr:]port --
	                       NOTE: port must be between 1024 and 65535
	    --cpuprofile=      Write CPU profile to the specified file
	    --memprofile=      Write mem profile to the specified file
	-d, --debuglevel=      Logging level for all subsystems {trace, debug,
	                       info, warn, error, critical} -- You may also
	                       specify
	                       <subsystem>=<level>,<subsystem2>=<level>,... to
	                       set the log level for individual subsystems --
	                       Use show to list available subsystems (info)
	-h, --help             Show this help message
*/
package main

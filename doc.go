/*
Relayd is a message relay for charging station management networks.

It sits between charging stations and a central management system, or between
other relays, and forwards requests towards their destination node. Every
request passes through the forwarding pipeline of its action: filters decide
whether it is forwarded, rewritten, rejected with a response, or dropped, and
signatures are verified and added according to the signing policy.

The default options are sane for most users, but a node id is required:

	relayd --nodeid=relay-1 --uplink=wss://csms.example.com/ocpp --uplinknodeid=CSMS

For an up-to-date help message:

	relayd --help

The long form of all option flags (except -C) can be specified in a
configuration file that is automatically parsed when relayd starts up. By
default, the configuration file is located at ~/.relayd/relayd.conf on
POSIX-style operating systems and %LOCALAPPDATA%\Relayd\relayd.conf on Windows.
The -C (--configfile) flag can be used to override this location.
*/
package main

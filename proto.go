package abusenet

import "time"

// Classification bytes sent by a peer right after connecting to the
// control port.
const (
	ClientNFS       byte = 50
	ClientAbuse     byte = 51
	ClientCRCWaiter byte = 52
	ClientLSFWaiter byte = 53
)

// Commands on the control channel of a game session.
const (
	CmdJoinFailed byte = iota
	CmdJoinSuccess
	CmdReloadStart
	CmdReloadEnd
	CmdRequestResend
	CmdUnjoin
)

// SCmdDeleteClient is written into the merged packet, followed by the id
// of a client that left.
const SCmdDeleteClient byte = 0

// Registration codes answering ClientAbuse.
const (
	RegNotRegistered byte = iota
	RegOK
	RegFull
)

const (
	// DefaultPort is the control port. The server takes DefaultPort+1 for
	// tick data, clients DefaultPort+2.
	DefaultPort = 20202

	// NotifyPort is where servers answer discovery requests.
	NotifyPort = 0x9090

	// MaxJoiners bounds client ids.
	MaxJoiners = 32

	// StartFile is the level a server saves for joining clients.
	StartFile = "netstart.spe"

	// CRCFile is written for clients waiting on file checksums.
	CRCFile = "#net_crc"

	// DefaultLSF is the level start file used without a server.
	DefaultLSF = "abuse.lsp"

	// MissedDeadline is how long to wait for the merged packet before
	// asking for a resend.
	MissedDeadline = 50 * time.Millisecond

	// DeadRetries is the number of missed packets after which the user is
	// told the connection appears dead.
	DeadRetries = 12000
)

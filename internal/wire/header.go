package wire

// Header discriminates the packets exchanged by the overlay.
type Header string

func (h Header) String() string { return string(h) }

const (
	HeaderRumor              Header = "GOSSIP_RUMOR"
	HeaderSessionInform      Header = "GOSSIP_SESSION_INFORM"
	HeaderSessionInformReply Header = "GOSSIP_SESSION_INFORM_REPLY"
	HeaderSessionStateUpdate Header = "GOSSIP_SESSION_STATE_UPDATE"
	HeaderSessionStateAck    Header = "GOSSIP_SESSION_STATE_ACK"
	HeaderTreeCheck          Header = "GOSSIP_TREE_CHECK"
	HeaderTreeReject         Header = "GOSSIP_TREE_REJECT"
	HeaderUpgradeConn        Header = "GOSSIP_UPGRADE_CONN"
	HeaderDowngradeConn      Header = "GOSSIP_DOWNGRADE_CONN"
	HeaderUpdateStreamLink   Header = "GOSSIP_UPDATE_STREAM_LINK"
	HeaderTreeGather         Header = "GOSSIP_TREE_GATHER"
	HeaderTreeGatherReply    Header = "GOSSIP_TREE_GATHER_REPLY"
	HeaderTransferMetadata   Header = "GOSSIP_TRANSFER_METADATA"
)

// LinkOK is the acknowledgement written back over a freshly accepted stream
// link.
var LinkOK = []byte("OK")

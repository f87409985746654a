package definition

// ProtocolVersion identifies the wire schema described in the external
// interfaces section of the specification this module implements. It is
// not sent on the wire; NewMetrics reports it as the version label of the
// chatmesh_build_info metric.
const ProtocolVersion = "1.0.0"

// DefaultPort is the well-known TCP port the chat protocol listens on.
const DefaultPort = 65412

// MaxMessageBytes bounds a single request or response frame.
const MaxMessageBytes = 1024

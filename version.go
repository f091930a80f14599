package webfront

// ProtocolVersion is the version advertised by the refresh endpoint when
// the client asks for it. Clients compiled against a different version
// must fail fast rather than guess at compatibility.
const ProtocolVersion = "2.0.0"

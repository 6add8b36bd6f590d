package model

// ElectRequest is the vote request document
type ElectRequest struct {
	SetName       string `json:"set"`
	Who           string `json:"who"`
	WhoID         int64  `json:"whoid"`
	ConfigVersion int64  `json:"cfgver"`
	Round         int64  `json:"round"`
}

// ElectResponse is the vote response document
type ElectResponse struct {
	Ok bool `json:"ok"`
	// Vote is positive for an affirmative vote, zero or negative otherwise
	Vote int64 `json:"vote"`
	// Round echoes the correlation token of the request
	Round int64 `json:"round"`
}

func ElectReply(resp *ElectResponse, ok bool, vote int64, round int64) {
	resp.Ok = ok
	resp.Vote = vote
	resp.Round = round
}

// HeartbeatRequest is the liveness probe document
type HeartbeatRequest struct {
	SetName         string `json:"set"`
	ProtocolVersion int64  `json:"pv"`
	ConfigVersion   int64  `json:"v"`
	// CheckEmpty is true when probing for an initial configuration
	CheckEmpty bool   `json:"check_empty"`
	SenderHost string `json:"from"`
	SenderID   int64  `json:"from_id"`
}

// HeartbeatResponse is the liveness probe response document
type HeartbeatResponse struct {
	Ok bool `json:"ok"`
	// Mismatch is set when the sender's set name did not match ours
	Mismatch bool `json:"mismatch,omitempty"`
	// SetName and ConfigVersion advertise the responder's own configuration
	SetName       string `json:"set,omitempty"`
	ConfigVersion int64  `json:"v,omitempty"`
}

func HeartbeatReply(resp *HeartbeatResponse, ok bool, setName string, version int64) {
	resp.Ok = ok
	resp.SetName = setName
	resp.ConfigVersion = version
}

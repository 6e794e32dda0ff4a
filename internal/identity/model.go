package identity

// AuthMethod is the externally verified credential presented by a caller.
// AccessToken is opaque to the relay apart from the address it must carry.
type AuthMethod struct {
	AuthMethodType int    `json:"authMethodType"`
	AccessToken    string `json:"accessToken"`
}

// RelayRequestData is the per-caller slice of a mint request.
type RelayRequestData struct {
	AuthMethodType   int
	AuthMethodID     string
	AuthMethodPubKey string
}

// accessToken is the subset of the access token payload the relay reads.
type accessToken struct {
	Address string `json:"address"`
}

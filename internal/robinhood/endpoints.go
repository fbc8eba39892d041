// Package robinhood implements an authenticated, rate-controlled client for
// the unofficial Robinhood API: OAuth2 login with device identity and
// verification workflows, durable session state, and a request dispatcher
// that retries transient failures without tripping upstream abuse detection.
package robinhood

// DefaultClientID is the OAuth2 client identifier presented by the official
// mobile app. The token endpoint rejects logins without it.
const DefaultClientID = "c82SH0WZOsabOXGP2sxqcj34FxkvfnWRZBKlBjFS"

const (
	defaultAPIBase      = "https://api.robinhood.com"
	defaultIdentityBase = "https://identi.robinhood.com"
)

// Endpoints resolves API paths against configurable base URLs so tests can
// point the client at a local server.
type Endpoints struct {
	API      string
	Identity string
}

// DefaultEndpoints returns the production Robinhood hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{API: defaultAPIBase, Identity: defaultIdentityBase}
}

// Authentication.

func (e Endpoints) Token() string       { return e.API + "/oauth2/token/" }
func (e Endpoints) RevokeToken() string { return e.API + "/oauth2/revoke_token/" }

func (e Endpoints) ChallengeRespond(challengeID string) string {
	return e.API + "/challenge/" + challengeID + "/respond/"
}

// Verification (pathfinder + identity workflow).

func (e Endpoints) UserMachine() string { return e.API + "/pathfinder/user_machine/" }

func (e Endpoints) Inquiries(machineID string) string {
	return e.API + "/pathfinder/inquiries/" + machineID + "/user_view/"
}

func (e Endpoints) PushPromptStatus(challengeID string) string {
	return e.API + "/push/" + challengeID + "/get_prompts_status/"
}

// IdentityWorkflow is the undocumented identi host endpoint behind the web
// UI's "Send text instead" action.
func (e Endpoints) IdentityWorkflow(workflowID string) string {
	return e.Identity + "/idl/v1/workflow/" + workflowID + "/"
}

// Account and market data.

func (e Endpoints) Accounts() string           { return e.API + "/accounts/" }
func (e Endpoints) Portfolios() string         { return e.API + "/portfolios/" }
func (e Endpoints) Positions() string          { return e.API + "/positions/" }
func (e Endpoints) Quotes() string             { return e.API + "/quotes/" }
func (e Endpoints) Instruments() string        { return e.API + "/instruments/" }
func (e Endpoints) OptionsPositions() string   { return e.API + "/options/positions/" }
func (e Endpoints) OptionsChains() string      { return e.API + "/options/chains/" }
func (e Endpoints) OptionsInstruments() string { return e.API + "/options/instruments/" }
func (e Endpoints) OptionsMarketData() string  { return e.API + "/marketdata/options/" }

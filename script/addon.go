package script

// Addon is one entry of the Extensions list: an object carrying an optional
// request and/or response hook, matched by name for logging (§4.7: "Each
// addon is an object with optional request(flow) and response(flow)
// hooks"). When the script supplies no name, the Lua and JS engines report
// the addon as "addon" in HookError.Addon.
type Addon struct {
	Name     string
	OnRequest  func(*FlowView) error
	OnResponse func(*FlowView) error
}

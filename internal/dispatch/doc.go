// Package dispatch sends entity actions to Jeedom.
//
// An entity slug is resolved against the last classification result, the
// action is encoded into a Jeedom command call (fixed action, slider value
// or option), and the call goes out over JSON-RPC (cmd::execCmd) with an
// optional single fallback to the plain HTTP API (jeeApi.php?type=cmd).
//
//	d, _ := dispatch.New(dispatch.Options{Entities: index, Config: &cfg.Jeedom})
//	res, err := d.Dispatch(ctx, dispatch.Request{Slug: "salon_lampe", Action: "on"})
package dispatch

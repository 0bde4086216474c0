package schema

import "fmt"

// stringParam extracts a required string parameter.
func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("schema: missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("schema: parameter %q must be a string", key)
	}
	return s, nil
}

// DefaultMappings returns the fixed schema→RPC translation table named in
// spec.md §4.3: monitor, fee-policy, rebalance, config, channel, htlc,
// wallet, backup, emergency.
func DefaultMappings() []Mapping {
	return []Mapping{
		{
			SchemaAction: SchemaAction{Schema: "monitor/v1", Action: "get_status"},
			Danger:       1,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.GetInfo", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "monitor/v1", Action: "list_channels"},
			Danger:       1,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.ListChannels", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "fee-policy/v1", Action: "set_anchor"},
			Danger:       3,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				channel, err := stringParam(params, "channel")
				if err != nil {
					return nil, err
				}
				return []RPCStep{{Method: "node.UpdateChannelPolicy", Params: map[string]interface{}{
					"channel": channel, "fee_ppm": params["fee_ppm"],
				}}}, nil
			},
			Touches: func(params map[string]interface{}) []string {
				ch, _ := params["channel"].(string)
				return []string{"channel_policy:" + ch}
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "rebalance/v1", Action: "circular"},
			Danger:       6,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.CircularRebalance", Params: params}}, nil
			},
			Touches: func(params map[string]interface{}) []string {
				ch, _ := params["channel"].(string)
				return []string{"channel_balance:" + ch}
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "config/v1", Action: "tune"},
			Danger:       4,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.SetConfig", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "channel/v1", Action: "open"},
			Danger:       7,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.OpenChannel", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "channel/v1", Action: "close"},
			Danger:       8,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.CloseChannel", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "htlc/v1", Action: "inspect"},
			Danger:       2,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.InspectHTLCs", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "wallet/v1", Action: "send_onchain"},
			Danger:       9,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.SendCoins", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "backup/v1", Action: "export"},
			Danger:       2,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.ExportChannelBackup", Params: params}}, nil
			},
		},
		{
			SchemaAction: SchemaAction{Schema: "emergency/v1", Action: "force_close_all"},
			Danger:       10,
			Build: func(params map[string]interface{}) ([]RPCStep, error) {
				return []RPCStep{{Method: "node.ForceCloseAll", Params: params}}, nil
			},
		},
	}
}

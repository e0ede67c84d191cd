package plugin

import (
	"encoding/json"
	"errors"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake is used to verify that the plugin and host are compatible
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGINHOST_PLUGIN",
	MagicCookieValue: "pluginhost-tool-v1",
}

// PluginMap is the map of plugins we can dispense
var PluginMap = map[string]plugin.Plugin{
	"tool": &ToolRPCPlugin{},
}

// RemoteTool is implemented by tool plugins running in their own process
type RemoteTool interface {
	Configure(class, pluginID string, config map[string]any) error
	Tools() ([]ToolDefinition, error)
	ExecuteTool(name string, params map[string]any) (map[string]any, error)
}

// ServeTool runs impl as a process plugin. It is called from the plugin binary's main.
func ServeTool(impl RemoteTool) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"tool": &ToolRPCPlugin{Impl: impl},
		},
	})
}

// ToolRPCPlugin is the implementation of plugin.Plugin for RPC
type ToolRPCPlugin struct {
	Impl RemoteTool
}

func (p *ToolRPCPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &ToolRPCServer{Impl: p.Impl}, nil
}

func (p *ToolRPCPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ToolRPCClient{client: c}, nil
}

// ConfigureArgs are the arguments for the Configure RPC call
type ConfigureArgs struct {
	Class    string
	PluginID string
	Config   []byte // JSON
}

// ExecuteToolArgs are the arguments for the ExecuteTool RPC call
type ExecuteToolArgs struct {
	Name   string
	Params []byte // JSON
}

// RPCResponse carries a JSON result and an error message. Errors cross the
// process boundary as strings.
type RPCResponse struct {
	Result []byte
	Error  string
}

// ToolRPCServer is the RPC server that ToolRPCClient talks to
type ToolRPCServer struct {
	Impl RemoteTool
}

func (s *ToolRPCServer) Configure(args *ConfigureArgs, resp *RPCResponse) error {
	var config map[string]any
	if len(args.Config) > 0 {
		if err := json.Unmarshal(args.Config, &config); err != nil {
			resp.Error = err.Error()
			return nil
		}
	}
	if err := s.Impl.Configure(args.Class, args.PluginID, config); err != nil {
		resp.Error = err.Error()
	}
	return nil
}

func (s *ToolRPCServer) Tools(args interface{}, resp *RPCResponse) error {
	tools, err := s.Impl.Tools()
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Result, err = json.Marshal(tools)
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

func (s *ToolRPCServer) ExecuteTool(args *ExecuteToolArgs, resp *RPCResponse) error {
	var params map[string]any
	if len(args.Params) > 0 {
		if err := json.Unmarshal(args.Params, &params); err != nil {
			resp.Error = err.Error()
			return nil
		}
	}
	result, err := s.Impl.ExecuteTool(args.Name, params)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Result, err = json.Marshal(result)
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

// ToolRPCClient is the RPC client that talks to ToolRPCServer
type ToolRPCClient struct {
	client *rpc.Client
}

func (c *ToolRPCClient) Configure(class, pluginID string, config map[string]any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	var resp RPCResponse
	if err := c.client.Call("Plugin.Configure", &ConfigureArgs{Class: class, PluginID: pluginID, Config: data}, &resp); err != nil {
		return err
	}
	return respError(resp)
}

func (c *ToolRPCClient) Tools() ([]ToolDefinition, error) {
	var resp RPCResponse
	if err := c.client.Call("Plugin.Tools", new(interface{}), &resp); err != nil {
		return nil, err
	}
	if err := respError(resp); err != nil {
		return nil, err
	}
	var tools []ToolDefinition
	if err := json.Unmarshal(resp.Result, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (c *ToolRPCClient) ExecuteTool(name string, params map[string]any) (map[string]any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var resp RPCResponse
	if err := c.client.Call("Plugin.ExecuteTool", &ExecuteToolArgs{Name: name, Params: data}, &resp); err != nil {
		return nil, err
	}
	if err := respError(resp); err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func respError(resp RPCResponse) error {
	if resp.Error == "" {
		return nil
	}
	return errors.New(resp.Error)
}

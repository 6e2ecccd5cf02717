// Package mcpserver serves the tools of an [mcp.Host] over the Model Context
// Protocol, on stdio or as a streamable HTTP handler.
//
// Tool results are the JSON-encoded envelope. A failed envelope is marked
// with IsError so clients can tell application failures from protocol ones.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/mcp"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
	"github.com/MrWong99/questweaver/internal/observe"
)

const serverName = "questweaver"

// Option configures a [Server].
type Option func(*Server)

// WithResolver authenticates the Authorization header of HTTP requests.
func WithResolver(r auth.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithStdioUser runs stdio sessions as userID. Without it, stdio callers
// must pass an authToken argument.
func WithStdioUser(userID string) Option {
	return func(s *Server) { s.stdioUser = userID }
}

// Server is an MCP server backed by a tool host.
type Server struct {
	host      mcp.Host
	srv       *mcpsdk.Server
	resolver  auth.Resolver
	stdioUser string
}

// New registers every tool of host on a new MCP server. Tools registered on
// host afterwards are not picked up.
func New(host mcp.Host, version string, opts ...Option) *Server {
	s := &Server{
		host: host,
		srv:  mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil),
	}
	for _, o := range opts {
		o(s)
	}
	for _, info := range host.Tools() {
		s.srv.AddTool(&mcpsdk.Tool{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: info.InputSchema,
		}, s.handler(info.Name))
	}
	return s
}

func (s *Server) handler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		ctx = observe.WithLogAttrs(ctx, slog.String("transport", "mcp"))
		ctx, env, ok := s.authenticate(ctx, req)
		if ok {
			var err error
			env, err = s.host.Execute(ctx, name, req.Params.Arguments)
			if err != nil {
				return nil, err
			}
		}
		return toResult(ctx, env), nil
	}
}

// authenticate attaches the caller to ctx. A present but invalid
// Authorization header fails the call; a missing one defers to the
// authToken argument.
func (s *Server) authenticate(ctx context.Context, req *mcpsdk.CallToolRequest) (context.Context, tools.Envelope, bool) {
	if _, ok := auth.UserFrom(ctx); ok {
		return ctx, tools.Envelope{}, true
	}
	if s.resolver == nil || req.Extra == nil || req.Extra.Header == nil {
		return ctx, tools.Envelope{}, true
	}
	header := req.Extra.Header.Get("Authorization")
	if header == "" {
		return ctx, tools.Envelope{}, true
	}
	user, err := s.resolver.Resolve(ctx, header)
	if err != nil {
		return ctx, tools.FailWith(ctx, req.Params.Name, err, nil), false
	}
	ctx = observe.WithLogAttrs(auth.WithUser(ctx, user), slog.String("user_id", user))
	return ctx, tools.Envelope{}, true
}

func toResult(ctx context.Context, env tools.Envelope) *mcpsdk.CallToolResult {
	b, err := json.Marshal(env)
	if err != nil {
		observe.Logger(ctx).Error("mcp server: encode envelope", slog.Any("err", err))
		b, _ = json.Marshal(tools.Internal())
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
		IsError: !env.Success,
	}
}

// RunStdio serves one session on stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	if s.stdioUser != "" {
		ctx = auth.WithUser(ctx, s.stdioUser)
	}
	slog.Info("mcp server: serving on stdio")
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const sessionResourceURI = "sensebridge://session"

// sessionStatus is the body of the session resource.
type sessionStatus struct {
	Root        string `json:"root"`
	Language    string `json:"language,omitempty"`
	Status      string `json:"status"`
	Command     string `json:"command,omitempty"`
	PID         int    `json:"pid,omitempty"`
	Ready       bool   `json:"ready"`
	Diagnostics int    `json:"diagnostics"`
	Error       string `json:"error,omitempty"`
}

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			sessionResourceURI,
			"Language Server Session",
			mcplib.WithResourceDescription("Workspace root and state of the language server behind the tools"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessionResource,
	)
}

func (s *Server) handleSessionResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Session == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"session not configured"}`,
			},
		}, nil
	}
	info := s.deps.Session.Status()
	out := sessionStatus{
		Root:        s.cfg.Root,
		Language:    info.Language,
		Status:      string(info.Status),
		Command:     info.Command,
		PID:         info.PID,
		Ready:       info.Ready,
		Diagnostics: info.Diagnostics,
		Error:       info.Error,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

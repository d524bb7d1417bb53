package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/uidsnap/internal/annotate"
	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/session"
	"github.com/adityalohuni/uidsnap/internal/snapshot"
)

type Options struct {
	Implementation *mcp.Implementation
	Instructions   string
	// Snapshot holds the defaults for browser.snapshot arguments.
	Snapshot snapshot.Options
	Registry *session.Registry
	Annotate *annotate.Config
	Logger   *slog.Logger
}

type Server struct {
	mcpServer *mcp.Server
	browser   browser.Browser
	manager   *snapshot.Manager
	defaults  snapshot.Options
	registry  *session.Registry
	annotate  annotate.Config
	logger    *slog.Logger
}

const defaultInstructions = "Call browser.snapshot first. Every element in the snapshot has a uid such as 3_12. " +
	"Pass that uid to browser.click, browser.fill, browser.hover, browser.screenshot or browser.drag. " +
	"Uids expire when a new snapshot is taken or the page navigates; take a fresh snapshot when told to."

func New(b browser.Browser, manager *snapshot.Manager, opts Options) *Server {
	impl := opts.Implementation
	if impl == nil {
		impl = &mcp.Implementation{Name: "uidsnap-browser", Version: "v1.0.0"}
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ann := annotate.DefaultConfig()
	if opts.Annotate != nil {
		ann = *opts.Annotate
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{Instructions: instructions})
	s := &Server{
		mcpServer: server,
		browser:   b,
		manager:   manager,
		defaults:  opts.Snapshot,
		registry:  opts.Registry,
		annotate:  ann,
		logger:    logger,
	}
	if sn, ok := b.(browser.SessionNavigator); ok {
		sn.OnSessionNavigate(s.onSessionNavigate)
	} else {
		b.OnNavigate(s.onNavigate)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.snapshot",
		Description: "Take a fresh snapshot of the page. Returns an indented element tree where every line carries a uid.",
	}, s.snapshot)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.resolve_uid",
		Description: "Return the CSS selector, XPath and frame path recorded for a uid in the current snapshot.",
	}, s.resolveUID)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.click",
		Description: "Click the element identified by a snapshot uid.",
	}, s.click)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.fill",
		Description: "Replace the value of an input, textarea or select identified by a snapshot uid.",
	}, s.fill)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.hover",
		Description: "Move the pointer over the element identified by a snapshot uid.",
	}, s.hover)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.screenshot",
		Description: "Capture a PNG of the element identified by a snapshot uid, optionally labelled with the uid.",
	}, s.screenshot)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.drag",
		Description: "Drag the element identified by uid onto the element identified by targetUid.",
	}, s.drag)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.navigate",
		Description: "Navigate to a URL. All uids from earlier snapshots become invalid.",
	}, s.navigate)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser.clear_snapshot",
		Description: "Invalidate every uid issued so far.",
	}, s.clearSnapshot)

	server.AddResource(&mcp.Resource{
		Name:        "snapshot_latest",
		Description: "Read the most recent snapshot tree as JSON.",
		URI:         "snapshot://latest",
		MIMEType:    "application/json",
	}, s.readLatest)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "snapshot_by_id",
		Description: "Read a recent snapshot tree by its snapshot id.",
		URITemplate: "snapshot://{snapshot_id}",
		MIMEType:    "application/json",
	}, s.readSnapshot)

	return s
}

func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// onNavigate drops every uid once the top-level document changes, so old
// selectors are never matched against the new page.
func (s *Server) onNavigate(url string) {
	s.logger.Info("mcpserver: page navigated, clearing snapshot", "url", url)
	s.manager.Clear()
}

func (s *Server) onSessionNavigate(session, url string) {
	if s.manager.ClearSession(session) {
		s.logger.Info("mcpserver: page navigated, clearing snapshot", "session", session, "url", url)
	}
}

func withSession(ctx context.Context, sessionID string) context.Context {
	return browser.WithTarget(ctx, browser.Target{SessionID: sessionID})
}

func withTarget(ctx context.Context, sessionID string, timeoutMs int) context.Context {
	target := browser.Target{SessionID: sessionID}
	if timeoutMs > 0 {
		target.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return browser.WithTarget(ctx, target)
}

func clientID(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

func (s *Server) recordAction(req *mcp.CallToolRequest, tool string) {
	if s.registry != nil {
		s.registry.RecordAction(clientID(req), tool)
	}
}

// toolError rewrites subsystem errors into messages that tell the agent
// how to recover.
func toolError(err error) error {
	var gen *snapshot.GenerationError
	var sel *snapshot.SelectorError
	switch {
	case errors.Is(err, resolver.ErrInvalidUIDFormat):
		return fmt.Errorf("%w: uids look like 3_12, copy one from the latest browser.snapshot output", err)
	case resolver.NeedsSnapshot(err):
		return fmt.Errorf("%w; take a fresh snapshot with browser.snapshot and use the new uids", err)
	case errors.As(err, &sel):
		return err
	case errors.As(err, &gen):
		return fmt.Errorf("%w; retry browser.snapshot", err)
	case errors.Is(err, browser.ErrUnsupported):
		return fmt.Errorf("%w by the configured browser backend", err)
	default:
		return err
	}
}

type SnapshotInput struct {
	SessionID      string `json:"sessionId,omitempty" jsonschema:"browser session id (extension backend only)"`
	Selector       string `json:"selector,omitempty" jsonschema:"CSS selector; snapshot only this element and its subtree"`
	IncludeAll     bool   `json:"includeAll,omitempty" jsonschema:"include every visible element, not only interactive and structural ones"`
	IncludeIframes *bool  `json:"includeIframes,omitempty" jsonschema:"descend into same-origin iframes"`
	MaxDepth       int    `json:"maxDepth,omitempty" jsonschema:"render at most this many levels of the tree"`
	MaxLines       int    `json:"maxLines,omitempty" jsonschema:"render at most this many lines"`
	OmitText       bool   `json:"omitText,omitempty" jsonschema:"leave out text content"`
	TimeoutMs      int    `json:"timeoutMs,omitempty" jsonschema:"page capture timeout in milliseconds"`
}

type SnapshotOutput struct {
	SnapshotID int    `json:"snapshot_id" jsonschema:"generation id; every uid starts with it"`
	URL        string `json:"url,omitempty" jsonschema:"page URL"`
	Title      string `json:"title,omitempty" jsonschema:"page title"`
	Text       string `json:"text" jsonschema:"indented element tree"`
	UIDCount   int    `json:"uid_count" jsonschema:"number of uids issued"`
	Truncated  bool   `json:"truncated,omitempty" jsonschema:"true when depth or node limits cut the tree"`
}

func (s *Server) snapshot(ctx context.Context, req *mcp.CallToolRequest, input SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
	ctx = withTarget(ctx, input.SessionID, input.TimeoutMs)
	opts := s.defaults
	opts.Selector = input.Selector
	opts.IncludeAll = input.IncludeAll
	if input.IncludeIframes != nil {
		opts.IncludeIframes = *input.IncludeIframes
	}
	if input.MaxDepth > 0 {
		opts.Format.MaxDepth = input.MaxDepth
	}
	if input.MaxLines > 0 {
		opts.Format.MaxLines = input.MaxLines
	}
	if input.OmitText {
		opts.Format.OmitText = true
	}

	res, err := s.manager.TakeSnapshot(ctx, opts)
	if err != nil {
		return nil, SnapshotOutput{}, toolError(err)
	}
	if s.registry != nil {
		s.registry.RecordSnapshot(clientID(req), res.JSON.SnapshotID)
	}
	return nil, SnapshotOutput{
		SnapshotID: res.JSON.SnapshotID,
		URL:        res.JSON.URL,
		Title:      res.JSON.Title,
		Text:       res.Text,
		UIDCount:   res.UIDCount,
		Truncated:  res.Truncated,
	}, nil
}

type UIDInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"browser session id (extension backend only)"`
	UID       string `json:"uid" jsonschema:"element uid from the latest snapshot"`
}

type ResolveOutput struct {
	UID        string   `json:"uid"`
	SnapshotID int      `json:"snapshot_id"`
	Selector   string   `json:"selector"`
	XPath      string   `json:"xpath,omitempty"`
	Frames     []string `json:"frames,omitempty" jsonschema:"selectors of the enclosing iframes, outermost first"`
}

func (s *Server) resolveUID(ctx context.Context, _ *mcp.CallToolRequest, input UIDInput) (*mcp.CallToolResult, ResolveOutput, error) {
	entry, err := s.manager.Resolver().Lookup(input.UID)
	if err != nil {
		return nil, ResolveOutput{}, toolError(err)
	}
	return nil, ResolveOutput{
		UID:        entry.UID,
		SnapshotID: s.manager.Resolver().SnapshotID(),
		Selector:   entry.CSS,
		XPath:      entry.XPath,
		Frames:     entry.Frames,
	}, nil
}

type ActionOutput struct {
	Status string `json:"status"`
	UID    string `json:"uid"`
}

func (s *Server) element(ctx context.Context, uid string) (browser.ElementHandle, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, errors.New("uid is required")
	}
	h, err := s.manager.Resolver().ResolveUIDToElement(ctx, uid)
	if err != nil {
		return nil, toolError(err)
	}
	return h, nil
}

func (s *Server) act(ctx context.Context, req *mcp.CallToolRequest, tool string, input UIDInput, fn func(context.Context, browser.ElementHandle) error) (*mcp.CallToolResult, ActionOutput, error) {
	ctx = withSession(ctx, input.SessionID)
	h, err := s.element(ctx, input.UID)
	if err != nil {
		return nil, ActionOutput{}, err
	}
	if err := fn(ctx, h); err != nil {
		return nil, ActionOutput{}, toolError(err)
	}
	s.recordAction(req, tool)
	return nil, ActionOutput{Status: "ok", UID: input.UID}, nil
}

func (s *Server) click(ctx context.Context, req *mcp.CallToolRequest, input UIDInput) (*mcp.CallToolResult, ActionOutput, error) {
	return s.act(ctx, req, "browser.click", input, func(ctx context.Context, h browser.ElementHandle) error {
		return h.Click(ctx)
	})
}

func (s *Server) hover(ctx context.Context, req *mcp.CallToolRequest, input UIDInput) (*mcp.CallToolResult, ActionOutput, error) {
	return s.act(ctx, req, "browser.hover", input, func(ctx context.Context, h browser.ElementHandle) error {
		return h.Hover(ctx)
	})
}

type FillInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"browser session id (extension backend only)"`
	UID       string `json:"uid" jsonschema:"element uid from the latest snapshot"`
	Text      string `json:"text" jsonschema:"new value; for selects the option value"`
}

func (s *Server) fill(ctx context.Context, req *mcp.CallToolRequest, input FillInput) (*mcp.CallToolResult, ActionOutput, error) {
	return s.act(ctx, req, "browser.fill", UIDInput{SessionID: input.SessionID, UID: input.UID}, func(ctx context.Context, h browser.ElementHandle) error {
		return h.Fill(ctx, input.Text)
	})
}

type DragInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"browser session id (extension backend only)"`
	UID       string `json:"uid" jsonschema:"uid of the element to drag"`
	TargetUID string `json:"targetUid" jsonschema:"uid of the drop target"`
}

func (s *Server) drag(ctx context.Context, req *mcp.CallToolRequest, input DragInput) (*mcp.CallToolResult, ActionOutput, error) {
	return s.act(ctx, req, "browser.drag", UIDInput{SessionID: input.SessionID, UID: input.UID}, func(ctx context.Context, h browser.ElementHandle) error {
		if strings.TrimSpace(input.TargetUID) == "" {
			return errors.New("targetUid is required")
		}
		target, err := s.manager.Resolver().ResolveUIDToElement(ctx, input.TargetUID)
		if err != nil {
			return err
		}
		return h.DragTo(ctx, target)
	})
}

type ScreenshotInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"browser session id (extension backend only)"`
	UID       string `json:"uid" jsonschema:"element uid from the latest snapshot"`
	Label     bool   `json:"label,omitempty" jsonschema:"draw the uid onto the image"`
}

type ScreenshotOutput struct {
	UID    string `json:"uid"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

func (s *Server) screenshot(ctx context.Context, req *mcp.CallToolRequest, input ScreenshotInput) (*mcp.CallToolResult, ScreenshotOutput, error) {
	ctx = withSession(ctx, input.SessionID)
	h, err := s.element(ctx, input.UID)
	if err != nil {
		return nil, ScreenshotOutput{}, err
	}
	data, err := h.Screenshot(ctx)
	if err != nil {
		return nil, ScreenshotOutput{}, toolError(err)
	}
	if input.Label {
		tag := ""
		if snap, ok := s.manager.Store().Latest(); ok {
			if n := snap.Root.Find(input.UID); n != nil {
				tag = n.Tag
			}
		}
		labelled, err := annotate.Annotate(data, annotate.Label{UID: input.UID, Tag: tag}, s.annotate)
		if err != nil {
			s.logger.Warn("mcpserver: label screenshot", "uid", input.UID, "error", err)
		} else {
			data = labelled
		}
	}
	s.recordAction(req, "browser.screenshot")
	out := ScreenshotOutput{UID: input.UID, Format: "png", Bytes: len(data)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.ImageContent{Data: data, MIMEType: "image/png"}},
	}, out, nil
}

type NavigateInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"browser session id (extension backend only)"`
	URL       string `json:"url" jsonschema:"URL to navigate to"`
}

func (s *Server) navigate(ctx context.Context, req *mcp.CallToolRequest, input NavigateInput) (*mcp.CallToolResult, browser.NavigateResult, error) {
	if strings.TrimSpace(input.URL) == "" {
		return nil, browser.NavigateResult{}, errors.New("url is required")
	}
	ctx = withSession(ctx, input.SessionID)
	// Clear before the new document can be resolved against, even if the
	// backend reports the navigation late.
	s.manager.Clear()
	out, err := s.browser.Navigate(ctx, input.URL)
	if err != nil {
		return nil, browser.NavigateResult{}, err
	}
	s.recordAction(req, "browser.navigate")
	return nil, out, nil
}

type EmptyInput struct{}

type ClearOutput struct {
	Cleared        bool `json:"cleared"`
	LastSnapshotID int  `json:"last_snapshot_id"`
}

func (s *Server) clearSnapshot(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, ClearOutput, error) {
	s.manager.Clear()
	s.recordAction(req, "browser.clear_snapshot")
	return nil, ClearOutput{Cleared: true, LastSnapshotID: s.manager.Current()}, nil
}

func (s *Server) readSnapshot(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, errors.New("missing resource params")
	}
	u, err := url.Parse(req.Params.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid resource URI: %w", err)
	}
	if u.Scheme != "snapshot" {
		return nil, fmt.Errorf("unsupported resource URI: %s", req.Params.URI)
	}
	if u.Host == "latest" {
		return s.readLatest(ctx, req)
	}
	id, err := strconv.Atoi(u.Host)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	snap, ok := s.manager.Store().Get(id)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return snapshotResource(req.Params.URI, snap)
}

func (s *Server) readLatest(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, errors.New("missing resource params")
	}
	snap, ok := s.manager.Store().Latest()
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return snapshotResource(req.Params.URI, snap)
}

func snapshotResource(uri string, snap page.Snapshot) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// Conn is the part of *nats.Conn the dispatcher uses
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	FlushWithContext(ctx context.Context) error
}

// NATSConfig configures the NATS dispatcher
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	// AwaitReply turns the publish into a request; the handler's reply
	// decides the outcome of the action
	AwaitReply bool
	Timeout    time.Duration
}

// NATSDispatcher publishes delegated actions on
// <prefix>.<target>.<action>
type NATSDispatcher struct {
	conn   Conn
	config NATSConfig
}

// Reply is what a handler answers when the dispatcher awaits replies
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ConnectNATS dials the server and returns a dispatcher owning the
// connection
func ConnectNATS(cfg NATSConfig) (*NATSDispatcher, *nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("datagrid-dispatch"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("NATS dispatcher connected (subject: %s.*, url: %s)", cfg.SubjectPrefix, cfg.URL)
	return NewNATSDispatcher(nc, cfg), nc, nil
}

func NewNATSDispatcher(conn Conn, cfg NATSConfig) *NATSDispatcher {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "grid.actions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &NATSDispatcher{conn: conn, config: cfg}
}

// Subject of an identifier
func (d *NATSDispatcher) Subject(t Target) string {
	return d.config.SubjectPrefix + "." + t.Target + "." + t.Action
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, identifier string, req grid.DispatchRequest) error {
	target, err := ParseIdentifier(identifier)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode action request: %w", err)
	}

	msg := &nats.Msg{
		Subject: d.Subject(target),
		Data:    data,
		Header: nats.Header{
			"Action-ID":    []string{uuid.New().String()},
			"Grid-Handler": []string{target.String()},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	if !d.config.AwaitReply {
		if err := d.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish action %s: %w", identifier, err)
		}
		return d.conn.FlushWithContext(ctx)
	}

	resp, err := d.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return grid.NewError(grid.ErrNotFound, "NATSDispatcher.Dispatch", fmt.Errorf("no handler listens on %s", msg.Subject))
		}
		return fmt.Errorf("action %s: %w", identifier, err)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return fmt.Errorf("action %s: malformed reply: %w", identifier, err)
	}
	if !reply.Success {
		return fmt.Errorf("action %s failed: %s", identifier, reply.Error)
	}
	return nil
}

// HandlerFunc runs one delegated action
type HandlerFunc func(ctx context.Context, req grid.DispatchRequest) error

// Process decodes an action message and runs fn on it
func Process(ctx context.Context, fn HandlerFunc, msg *nats.Msg) Reply {
	var req grid.DispatchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return Reply{Error: "malformed action request"}
	}
	if err := fn(ctx, req); err != nil {
		logger.Warn("Action on %s failed: %v", msg.Subject, err)
		return Reply{Error: err.Error()}
	}
	return Reply{Success: true}
}

// Handle processes action messages and answers when a reply subject is
// set. It is meant for nats.Conn.Subscribe.
func Handle(fn HandlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		reply := Process(context.Background(), fn, msg)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			logger.Error("Failed to answer action on %s: %v", msg.Subject, err)
		}
	}
}

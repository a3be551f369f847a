package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/digest"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
	"github.com/secondbrain-hq/secondbrain/internal/pipeline"
)

// DefaultTTL is how long a pending operation survives between messages.
const DefaultTTL = 30 * time.Minute

const helpText = "[SB HELP]\n" +
	"Commands: next | today | week | help\n" +
	"Update: update <number>\n" +
	"Prefixes: person:, project:, idea:, admin:\n" +
	"Fix replies: fix: person|project|idea|admin\n" +
	"Cancel update: cancel"

// Message is one inbound chat message after webhook-level filtering. ID is
// the platform's message id; captures use it as their guard key so a
// redelivered webhook event files nothing the second time.
type Message struct {
	ID       string
	ThreadID string
	Sender   string
	Text     string
}

// stateKey scopes pending operations to the sender within the thread, so two
// people running updates in the same room never trample each other's state.
// Replies and captures still belong to the thread itself.
func stateKey(msg Message) string {
	if msg.Sender == "" {
		return msg.ThreadID
	}
	return msg.ThreadID + "#" + msg.Sender
}

// Machine is the conversation state machine. It holds no session memory of
// its own: every transition is reconstructed from the persisted
// PendingOperation, so a process restart between messages is invisible.
type Machine struct {
	states  core.StateStore
	records core.RecordStore
	inbox   core.InboxLog
	digests *digest.Generator
	orch    *pipeline.Orchestrator

	ttl     time.Duration
	botName string
	logger  *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options configures a Machine.
type Options struct {
	States  core.StateStore
	Records core.RecordStore
	Inbox   core.InboxLog
	Digests *digest.Generator
	Orch    *pipeline.Orchestrator

	TTL     time.Duration
	BotName string
	Logger  *logging.Logger
}

// NewMachine creates a conversation state machine.
func NewMachine(opts Options) *Machine {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Machine{
		states:  opts.States,
		records: opts.Records,
		inbox:   opts.Inbox,
		digests: opts.Digests,
		orch:    opts.Orch,
		ttl:     opts.TTL,
		botName: opts.BotName,
		logger:  opts.Logger,
		locks:   map[string]*sync.Mutex{},
	}
}

// Handle processes one inbound message and returns the reply text. Messages
// in the same thread are serialized; different threads proceed concurrently.
func (m *Machine) Handle(ctx context.Context, msg Message) (string, error) {
	text := stripBotPrefix(m.botName, msg.Text)
	if text == "" || isSystemMessage(text) {
		return "", nil
	}

	key := stateKey(msg)
	lock := m.threadLock(key)
	lock.Lock()
	defer lock.Unlock()

	if isCancel(text) {
		if err := m.states.Clear(ctx, key); err != nil {
			return "", err
		}
		return "Update canceled.", nil
	}

	op, err := m.states.Get(ctx, key)
	if err != nil {
		return "", err
	}

	switch {
	case op == nil:
		return m.handleIdle(ctx, msg, key, text)
	case op.Kind == core.AwaitingUpdateSelection:
		return m.handleUpdateSelection(ctx, op, key, text)
	case op.Kind == core.AwaitingFieldSelection:
		return m.handleFieldSelection(ctx, op, text)
	case op.Kind == core.AwaitingFieldValue:
		return m.applyUpdate(ctx, op, op.FieldKey, text)
	default:
		// Unknown kind can only come from a newer schema; drop it.
		m.logger.WithField("kind", string(op.Kind)).Warn("clearing unrecognized pending state")
		if err := m.states.Clear(ctx, key); err != nil {
			return "", err
		}
		return m.handleIdle(ctx, msg, key, text)
	}
}

// handleIdle covers the no-pending-state branch: quick queries, fix replies
// and fresh captures.
func (m *Machine) handleIdle(ctx context.Context, msg Message, key, text string) (string, error) {
	switch parseCommand(text) {
	case CommandHelp:
		return helpText, nil
	case CommandNext:
		return m.sendDigest(ctx, key, core.DigestNext)
	case CommandToday:
		return m.sendDigest(ctx, key, core.DigestToday)
	case CommandWeek:
		return m.sendDigest(ctx, key, core.DigestWeek)
	}

	if _, ok := parseUpdateRequest(text); ok {
		return "No recent list found. Send `next`, `today`, or `week` first.", nil
	}

	if category, ok, isFix := parseFixCategory(text); isFix {
		if !ok {
			return "Unknown category. Use `fix: person|project|idea|admin`.", nil
		}
		return m.handleFix(ctx, msg.ThreadID, category)
	}

	return m.captureText(ctx, msg, text)
}

// sendDigest builds and renders a digest list, remembering its snapshot so a
// following "update N" resolves against exactly what was shown. An empty list
// also drops any previous snapshot; "No items found" must not leave last
// week's numbering answering `update N`.
func (m *Machine) sendDigest(ctx context.Context, key string, kind core.DigestKind) (string, error) {
	refs, err := m.digests.Build(ctx, kind, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("build digest: %w", err)
	}

	if len(refs) == 0 {
		if err := m.states.Clear(ctx, key); err != nil {
			return "", fmt.Errorf("clear stale snapshot: %w", err)
		}
		return digest.Render(kind, refs), nil
	}

	op := &core.PendingOperation{
		ThreadID:     key,
		Kind:         core.AwaitingUpdateSelection,
		ListSnapshot: refs,
		ExpiresAt:    time.Now().UTC().Add(m.ttl),
	}
	if err := m.states.Put(ctx, op, nil); err != nil {
		return "", fmt.Errorf("store list snapshot: %w", err)
	}
	return digest.Render(kind, refs), nil
}

// handleFix re-files the thread's most recent capture under the category the
// user named.
func (m *Machine) handleFix(ctx context.Context, threadID string, category core.Category) (string, error) {
	entry, err := m.inbox.LatestForThread(ctx, threadID)
	if errors.Is(err, core.ErrNothingToFix) {
		return "Nothing recent to fix in this thread.", nil
	}
	if err != nil {
		return "", err
	}

	record, err := m.orch.Refile(ctx, entry, category)
	if err != nil {
		return "", fmt.Errorf("refile: %w", err)
	}
	return fmt.Sprintf("Filed as %s: %s.", record.Category, record.Title()), nil
}

// captureText treats the message as a new thought. Chat delivery is
// at-least-once; a message id the guard has already seen means this is a
// redelivery of something filed before, answered with silence rather than a
// duplicate record and a confusing second confirmation.
func (m *Machine) captureText(ctx context.Context, msg Message, text string) (string, error) {
	outcome, err := m.orch.ProcessText(ctx, msg.ID, text, "chat", msg.ThreadID)
	if errors.Is(err, core.ErrAlreadyCaptured) {
		m.logger.WithField("message", msg.ID).Debug("duplicate capture delivery ignored")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("process capture: %w", err)
	}

	if outcome.Status == core.InboxFiled {
		return fmt.Sprintf("Filed as %s: %s (%.2f).",
			outcome.Record.Category, outcome.Record.Title(), outcome.Entry.Confidence), nil
	}
	return fmt.Sprintf("Needs review: '%s' (%s, %.2f). Reply `fix: <category>` to file it.",
		outcome.Entry.Title, outcome.Entry.Category, outcome.Entry.Confidence), nil
}

// handleUpdateSelection resolves "update N" against the snapshotted list.
// Digest commands still work here; they just replace the snapshot.
func (m *Machine) handleUpdateSelection(ctx context.Context, op *core.PendingOperation, key, text string) (string, error) {
	switch parseCommand(text) {
	case CommandHelp:
		return helpText, nil
	case CommandNext:
		return m.sendDigest(ctx, key, core.DigestNext)
	case CommandToday:
		return m.sendDigest(ctx, key, core.DigestToday)
	case CommandWeek:
		return m.sendDigest(ctx, key, core.DigestWeek)
	}

	n, ok := parseUpdateRequest(text)
	if !ok {
		return "Did you mean `update <n>`? Or `cancel` to stop.", nil
	}
	if n < 1 || n > len(op.ListSnapshot) {
		return "That number is out of range. Try again.", nil
	}

	selected := op.ListSnapshot[n-1]
	next := &core.PendingOperation{
		ThreadID:     key,
		Kind:         core.AwaitingFieldSelection,
		ListSnapshot: op.ListSnapshot,
		Selected:     &selected,
		ExpiresAt:    time.Now().UTC().Add(m.ttl),
	}
	if err := m.putState(ctx, next, op); err != nil {
		return stateConflictReply(err)
	}
	return renderFieldList(&selected), nil
}

// handleFieldSelection accepts "2" (two-message form) or "2 New Value".
func (m *Machine) handleFieldSelection(ctx context.Context, op *core.PendingOperation, text string) (string, error) {
	n, value, ok := parseFieldSelection(text)
	if !ok {
		return "Reply with a field number (e.g., `2`) or `2 New Value`.", nil
	}

	schema := op.Selected.Category.FieldSchema()
	if n < 1 || n > len(schema) {
		return "That number is out of range. Try again.", nil
	}
	key := schema[n-1]

	if value == "" {
		next := &core.PendingOperation{
			ThreadID:     op.ThreadID,
			Kind:         core.AwaitingFieldValue,
			ListSnapshot: op.ListSnapshot,
			Selected:     op.Selected,
			FieldKey:     key,
			FieldName:    key,
			ExpiresAt:    time.Now().UTC().Add(m.ttl),
		}
		if err := m.putState(ctx, next, op); err != nil {
			return stateConflictReply(err)
		}
		return fmt.Sprintf("Send the new value for %s.", key), nil
	}

	return m.applyUpdate(ctx, op, key, value)
}

// applyUpdate writes the field change, clears the pending state and confirms.
func (m *Machine) applyUpdate(ctx context.Context, op *core.PendingOperation, key, value string) (string, error) {
	record, err := m.records.Update(ctx, op.Selected.RecordID, map[string]string{key: value})
	if errors.Is(err, core.ErrRecordNotFound) {
		if cerr := m.states.Clear(ctx, op.ThreadID); cerr != nil {
			return "", cerr
		}
		return "That record no longer exists. Send `next` for a fresh list.", nil
	}
	if err != nil {
		return "", fmt.Errorf("update record: %w", err)
	}

	if err := m.states.Clear(ctx, op.ThreadID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %s - %s set to '%s'.", record.Title(), key, value), nil
}

func (m *Machine) putState(ctx context.Context, next, prev *core.PendingOperation) error {
	return m.states.Put(ctx, next, prev)
}

func stateConflictReply(err error) (string, error) {
	if errors.Is(err, core.ErrStateConflict) {
		return "That crossed with another message. Send the command again.", nil
	}
	return "", err
}

// renderFieldList numbers the record's editable fields with their current
// values.
func renderFieldList(selected *core.RecordRef) string {
	lines := []string{fmt.Sprintf("Choose a field to update for %s:", selected.Title)}
	for i, key := range selected.Category.FieldSchema() {
		if value := strings.TrimSpace(selected.Fields[key]); value != "" {
			lines = append(lines, fmt.Sprintf("%d) %s: %s", i+1, key, value))
		} else {
			lines = append(lines, fmt.Sprintf("%d) %s", i+1, key))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Machine) threadLock(threadID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[threadID] = lock
	}
	return lock
}

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kamune-org/keyscope"
	"github.com/kamune-org/keyscope/pkg/codec"
	"github.com/kamune-org/keyscope/pkg/keytree"
	"github.com/kamune-org/keyscope/pkg/profile"
)

type ok struct {
	OK bool `json:"ok"`
}

func (d *Daemon) status() StatusData {
	st := StatusData{
		DaemonID:  d.id,
		SessionID: d.session.ID(),
		State:     d.session.State().String(),
		Connected: d.session.IsConnected(),
		Database:  d.session.Database(),
		Databases: d.session.Databases(),
	}
	if st.Connected {
		ep := d.session.Endpoint()
		st.Host, st.Port = ep.Host, ep.Port
	}
	return st
}

func (d *Daemon) handleConnect(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[ConnectParams](raw)
	if err != nil {
		return nil, err
	}
	ep := keyscope.Endpoint{
		Host:     params.Host,
		Port:     params.Port,
		Secret:   params.Secret,
		Database: params.Database,
	}
	if ep.Host == "" {
		ep.Host = keyscope.DefaultHost
	}
	if ep.Port == 0 {
		ep.Port = keyscope.DefaultPort
	}
	if err := d.session.Connect(ctx, ep); err != nil {
		return nil, err
	}
	return d.status(), nil
}

func (d *Daemon) handleConnectProfile(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[ConnectProfileParams](raw)
	if err != nil {
		return nil, err
	}
	store, err := d.profileStore()
	if err != nil {
		return nil, err
	}
	p, err := store.Get(params.Name)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", keyscope.ErrNotFound, err)
	case errors.Is(err, profile.ErrInvalidName):
		return nil, fmt.Errorf("%w: %w", keyscope.ErrValidation, err)
	case err != nil:
		return nil, err
	}
	if err := d.session.Connect(ctx, p.Endpoint()); err != nil {
		return nil, err
	}
	if err := store.Touch(p.Name); err != nil {
		d.logger.Warn("could not record profile use", slog.String("profile", p.Name), slog.Any("error", err))
	}
	return d.status(), nil
}

func (d *Daemon) handleSelectDB(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[SelectDBParams](raw)
	if err != nil {
		return nil, err
	}
	if err := d.session.SelectDatabase(ctx, params.Index); err != nil {
		return nil, err
	}
	return d.status(), nil
}

func (d *Daemon) handleListKeys(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[PatternParams](raw)
	if err != nil {
		return nil, err
	}
	keys, err := d.session.ListKeys(ctx, params.Pattern)
	if err != nil {
		return nil, err
	}
	out := make([]codec.Element, len(keys))
	for i, k := range keys {
		out[i] = codec.Element(k)
	}
	return map[string]any{"keys": out}, nil
}

func (d *Daemon) handleTree(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[PatternParams](raw)
	if err != nil {
		return nil, err
	}
	tree, err := d.session.Tree(ctx, params.Pattern)
	if err != nil {
		return nil, err
	}
	if params.Filter != "" {
		tree = keytree.Filter(tree, params.Filter)
	}
	return map[string]any{
		"len":   tree.Len(),
		"roots": nodes(tree.Roots),
	}, nil
}

func nodes(ns []*keytree.Node) []NodeData {
	out := make([]NodeData, len(ns))
	for i, n := range ns {
		out[i] = NodeData{
			Segment:  codec.Element(n.Segment),
			Path:     codec.Element(n.Path),
			IsKey:    n.IsKey,
			Count:    n.Count(),
			Children: nodes(n.Children),
		}
	}
	return out
}

func (d *Daemon) handleResolveType(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[KeyParams](raw)
	if err != nil {
		return nil, err
	}
	kind, err := d.session.ResolveType(ctx, string(params.Key))
	if err != nil {
		return nil, err
	}
	return map[string]string{"kind": kind.String()}, nil
}

func (d *Daemon) handleLoad(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[KeyParams](raw)
	if err != nil {
		return nil, err
	}
	entry, err := d.session.Load(ctx, string(params.Key))
	if err != nil {
		return nil, err
	}
	draft, err := keyscope.Format(entry.Value)
	if err != nil {
		return nil, err
	}
	return EntryData{
		Key:    codec.Element(entry.Key),
		Kind:   entry.Kind().String(),
		TTL:    int64(entry.TTL),
		Len:    entry.Value.Len(),
		Text:   draft.Text,
		Binary: draft.Binary,
	}, nil
}

func (d *Daemon) handleGetTTL(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[KeyParams](raw)
	if err != nil {
		return nil, err
	}
	ttl, err := d.session.GetTTL(ctx, string(params.Key))
	if err != nil {
		return nil, err
	}
	return map[string]int64{"ttl": int64(ttl)}, nil
}

func (d *Daemon) handleSetTTL(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[SetTTLParams](raw)
	if err != nil {
		return nil, err
	}
	if err := d.session.SetTTL(ctx, string(params.Key), params.Seconds); err != nil {
		return nil, err
	}
	return ok{true}, nil
}

func (d *Daemon) handleWrite(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[WriteParams](raw)
	if err != nil {
		return nil, err
	}
	kind, err := keyscope.ParseKind(params.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: kind %q", keyscope.ErrValidation, params.Kind)
	}
	value, err := keyscope.Parse(keyscope.Draft{
		Kind:   kind,
		Text:   params.Text,
		Binary: params.Binary,
	})
	if err != nil {
		return nil, err
	}

	var opts []keyscope.WriteOption
	switch {
	case params.TTL != nil:
		opts = append(opts, keyscope.WithTTL(*params.TTL))
	case params.KeepTTL:
		opts = append(opts, keyscope.KeepTTL())
	}
	if err := d.session.Write(ctx, string(params.Key), value, opts...); err != nil {
		return nil, err
	}
	return ok{true}, nil
}

func (d *Daemon) handleDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[KeyParams](raw)
	if err != nil {
		return nil, err
	}
	deleted, err := d.session.DeleteKey(ctx, string(params.Key))
	if err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": deleted}, nil
}

func (d *Daemon) handleDeleteMany(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[DeleteManyParams](raw)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(params.Keys))
	for i, k := range params.Keys {
		keys[i] = string(k)
	}
	return batch(d.session.DeleteMany(ctx, keys)), nil
}

func (d *Daemon) handleDeleteSubtree(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := decode[DeleteSubtreeParams](raw)
	if err != nil {
		return nil, err
	}
	tree, err := d.session.Tree(ctx, params.Pattern)
	if err != nil {
		return nil, err
	}
	node, found := tree.Find(string(params.Path))
	if !found {
		return nil, fmt.Errorf("subtree %q: %w", params.Path, keyscope.ErrNotFound)
	}
	return batch(d.session.DeleteSubtree(ctx, node)), nil
}

func batch(res keyscope.BatchResult) BatchData {
	out := BatchData{
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Deleted:   make([]codec.Element, len(res.Deleted)),
		Failures:  make([]FailureData, len(res.Failures)),
	}
	for i, k := range res.Deleted {
		out.Deleted[i] = codec.Element(k)
	}
	for i, f := range res.Failures {
		out.Failures[i] = FailureData{
			Key:   codec.Element(f.Key),
			Error: f.Err.Error(),
			Code:  string(keyscope.Classify(f.Err)),
		}
	}
	return out
}

func confirmed(raw json.RawMessage, what string) error {
	params, err := decode[FlushParams](raw)
	if err != nil {
		return err
	}
	if !params.Confirm {
		return fmt.Errorf("%w: %s requires confirm", keyscope.ErrValidation, what)
	}
	return nil
}

func (d *Daemon) handleFlushDB(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := confirmed(raw, CmdFlushDB); err != nil {
		return nil, err
	}
	if err := d.session.FlushDatabase(ctx); err != nil {
		return nil, err
	}
	return ok{true}, nil
}

func (d *Daemon) handleFlushAll(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := confirmed(raw, CmdFlushAll); err != nil {
		return nil, err
	}
	if err := d.session.FlushAll(ctx); err != nil {
		return nil, err
	}
	return ok{true}, nil
}

func (d *Daemon) handlePing(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := d.session.Ping(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"pong": true}, nil
}

func (d *Daemon) handleStatus(context.Context, json.RawMessage) (any, error) {
	return d.status(), nil
}

func (d *Daemon) handleShutdown(context.Context, json.RawMessage) (any, error) {
	d.logger.Info("shutting down")
	return ok{true}, nil
}

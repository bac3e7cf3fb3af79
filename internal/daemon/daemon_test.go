package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kamune-org/keyscope"
	"github.com/kamune-org/keyscope/pkg/codec"
	"github.com/kamune-org/keyscope/pkg/profile"
)

type event struct {
	Type string          `json:"type"`
	Evt  string          `json:"evt"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func line(t *testing.T, id, cmd string, params any) string {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	out, err := json.Marshal(Command{Type: "cmd", Cmd: cmd, ID: id, Params: raw})
	require.NoError(t, err)
	return string(out)
}

func connectLine(t *testing.T, id string, m *miniredis.Miniredis) string {
	t.Helper()
	port, err := strconv.Atoi(m.Port())
	require.NoError(t, err)
	return line(t, id, CmdConnect, ConnectParams{Host: m.Host(), Port: port})
}

// serve runs a daemon over the given lines and returns the events it wrote
// after the ready event, keyed by correlation ID.
func serve(t *testing.T, s *keyscope.Session, lines []string, opts ...Option) ([]event, map[string]event) {
	t.Helper()
	var out bytes.Buffer
	d := New(s, strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	var events []event
	dec := json.NewDecoder(&out)
	for dec.More() {
		var e event
		require.NoError(t, dec.Decode(&e))
		require.Equal(t, "evt", e.Type)
		events = append(events, e)
	}
	require.NotEmpty(t, events)
	require.Equal(t, EvtReady, events[0].Evt)

	byID := make(map[string]event)
	for _, e := range events[1:] {
		if e.ID != "" {
			byID[e.ID] = e
		}
	}
	return events[1:], byID
}

func newSession(t *testing.T) *keyscope.Session {
	t.Helper()
	s := keyscope.New(keyscope.WithTimeout(time.Second))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func response[T any](t *testing.T, e event) T {
	t.Helper()
	require.Equal(t, EvtResponse, e.Evt, string(e.Data))
	var v T
	require.NoError(t, json.Unmarshal(e.Data, &v))
	return v
}

func errorCode(t *testing.T, e event) string {
	t.Helper()
	require.Equal(t, EvtError, e.Evt, string(e.Data))
	var data ErrorData
	require.NoError(t, json.Unmarshal(e.Data, &data))
	require.NotEmpty(t, data.Error)
	return data.Code
}

func TestDaemonStatusBeforeConnect(t *testing.T) {
	a := require.New(t)
	s := newSession(t)
	events, byID := serve(t, s, []string{
		line(t, "1", CmdStatus, nil),
		line(t, "2", CmdListKeys, PatternParams{}),
	})
	a.Len(events, 2)

	st := response[StatusData](t, byID["1"])
	a.False(st.Connected)
	a.Equal("disconnected", st.State)
	a.Equal(s.ID(), st.SessionID)
	a.NotEmpty(st.DaemonID)

	a.Equal(string(keyscope.CodeConnection), errorCode(t, byID["2"]))
}

func TestDaemonSession(t *testing.T) {
	a := require.New(t)
	m := miniredis.RunT(t)
	a.NoError(m.Set("plain", "v"))

	_, byID := serve(t, newSession(t), []string{
		connectLine(t, "connect", m),
		line(t, "write", CmdWrite, WriteParams{
			Key:  codec.Element("user:1"),
			Kind: "hash",
			Text: `{"name": "alice", "age": "30"}`,
			TTL:  ptr(int64(120)),
		}),
		line(t, "load", CmdLoad, KeyParams{Key: codec.Element("user:1")}),
		line(t, "type", CmdResolveType, KeyParams{Key: codec.Element("user:1")}),
		line(t, "keys", CmdListKeys, PatternParams{Pattern: "*"}),
		line(t, "tree", CmdTree, PatternParams{}),
		line(t, "ttl", CmdGetTTL, KeyParams{Key: codec.Element("user:1")}),
		line(t, "persist", CmdSetTTL, SetTTLParams{Key: codec.Element("user:1"), Seconds: -1}),
		line(t, "ttl2", CmdGetTTL, KeyParams{Key: codec.Element("user:1")}),
		line(t, "ping", CmdPing, nil),
		line(t, "del", CmdDelete, KeyParams{Key: codec.Element("plain")}),
		line(t, "del2", CmdDelete, KeyParams{Key: codec.Element("plain")}),
	})

	st := response[StatusData](t, byID["connect"])
	a.True(st.Connected)
	a.Equal(m.Host(), st.Host)

	response[ok](t, byID["write"])
	a.Equal("alice", m.HGet("user:1", "name"))
	a.Equal(120*time.Second, m.TTL("user:1"))

	entry := response[EntryData](t, byID["load"])
	a.Equal(codec.Element("user:1"), entry.Key)
	a.Equal("hash", entry.Kind)
	a.Equal(int64(120), entry.TTL)
	a.Equal(2, entry.Len)
	a.False(entry.Binary)
	var fields map[string]string
	a.NoError(json.Unmarshal([]byte(entry.Text), &fields))
	a.Equal(map[string]string{"age": "30", "name": "alice"}, fields)

	a.Equal(map[string]string{"kind": "hash"}, response[map[string]string](t, byID["type"]))

	keys := response[map[string][]codec.Element](t, byID["keys"])
	a.Equal([]codec.Element{codec.Element("plain"), codec.Element("user:1")}, keys["keys"])

	tree := response[struct {
		Len   int        `json:"len"`
		Roots []NodeData `json:"roots"`
	}](t, byID["tree"])
	a.Equal(2, tree.Len)
	a.Len(tree.Roots, 2)
	a.Equal(codec.Element("user"), tree.Roots[1].Segment)
	a.False(tree.Roots[1].IsKey)
	a.Equal(1, tree.Roots[1].Count)
	a.Equal(codec.Element("user:1"), tree.Roots[1].Children[0].Path)

	a.Equal(int64(120), response[map[string]int64](t, byID["ttl"])["ttl"])
	response[ok](t, byID["persist"])
	a.Equal(int64(keyscope.NoExpiry), response[map[string]int64](t, byID["ttl2"])["ttl"])
	a.True(response[map[string]bool](t, byID["ping"])["pong"])
	a.True(response[map[string]bool](t, byID["del"])["deleted"])
	a.False(response[map[string]bool](t, byID["del2"])["deleted"])
	a.False(m.Exists("plain"))
}

func TestDaemonBinaryKey(t *testing.T) {
	a := require.New(t)
	m := miniredis.RunT(t)
	key := "bin:\xff\x00"

	_, byID := serve(t, newSession(t), []string{
		connectLine(t, "connect", m),
		line(t, "write", CmdWrite, WriteParams{Key: codec.Element(key), Kind: "string", Text: "x"}),
		line(t, "keys", CmdListKeys, PatternParams{}),
	})
	response[StatusData](t, byID["connect"])
	response[ok](t, byID["write"])
	a.True(m.Exists(key))

	a.Contains(string(byID["keys"].Data), `"$binary"`)
	keys := response[map[string][]codec.Element](t, byID["keys"])
	a.Equal([]codec.Element{codec.Element(key)}, keys["keys"])
}

func TestDaemonBatchDelete(t *testing.T) {
	a := require.New(t)
	m := miniredis.RunT(t)
	for _, k := range []string{"user:1:name", "user:1:age", "user:2:name", "order:9"} {
		a.NoError(m.Set(k, "v"))
	}

	_, byID := serve(t, newSession(t), []string{
		connectLine(t, "connect", m),
		line(t, "many", CmdDeleteMany, DeleteManyParams{Keys: []codec.Element{
			codec.Element("order:9"), codec.Element("missing"),
		}}),
		line(t, "subtree", CmdDeleteSubtree, DeleteSubtreeParams{Path: codec.Element("user:1")}),
		line(t, "nosubtree", CmdDeleteSubtree, DeleteSubtreeParams{Path: codec.Element("nope")}),
	})
	response[StatusData](t, byID["connect"])

	many := response[BatchData](t, byID["many"])
	a.Equal(1, many.Succeeded)
	a.Equal(1, many.Failed)
	a.Equal([]codec.Element{codec.Element("order:9")}, many.Deleted)
	a.Equal(codec.Element("missing"), many.Failures[0].Key)
	a.Equal(string(keyscope.CodeNotFound), many.Failures[0].Code)

	sub := response[BatchData](t, byID["subtree"])
	a.Equal(2, sub.Succeeded)
	a.Zero(sub.Failed)
	a.Equal([]string{"user:2:name"}, m.Keys())

	a.Equal(string(keyscope.CodeNotFound), errorCode(t, byID["nosubtree"]))
}

func TestDaemonFlushNeedsConfirm(t *testing.T) {
	a := require.New(t)
	m := miniredis.RunT(t)
	a.NoError(m.Set("k", "v"))

	_, byID := serve(t, newSession(t), []string{
		connectLine(t, "connect", m),
		line(t, "noconfirm", CmdFlushDB, nil),
		line(t, "noconfirm-all", CmdFlushAll, FlushParams{}),
		line(t, "flush", CmdFlushDB, FlushParams{Confirm: true}),
	})
	response[StatusData](t, byID["connect"])
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["noconfirm"]))
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["noconfirm-all"]))
	response[ok](t, byID["flush"])
	a.False(m.Exists("k"))
}

func TestDaemonErrors(t *testing.T) {
	a := require.New(t)
	m := miniredis.RunT(t)
	a.NoError(m.Set("s", "v"))

	events, byID := serve(t, newSession(t), []string{
		`{not json`,
		`{"type":"evt","evt":"ready","id":"wrongtype"}`,
		line(t, "unknown", "explode", nil),
		connectLine(t, "connect", m),
		line(t, "missing", CmdLoad, KeyParams{Key: codec.Element("absent")}),
		line(t, "badparams", CmdSelectDB, "three"),
		line(t, "badkind", CmdWrite, WriteParams{Key: codec.Element("k"), Kind: "stream", Text: "x"}),
		line(t, "baddoc", CmdWrite, WriteParams{Key: codec.Element("k"), Kind: "list", Text: "[1,"}),
		line(t, "range", CmdSelectDB, SelectDBParams{Index: 1 << 20}),
		line(t, "still", CmdStatus, nil),
	})

	a.Equal(EvtError, events[0].Evt)
	a.Empty(events[0].ID)
	a.Equal(string(keyscope.CodeValidation), errorCode(t, events[0]))
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["wrongtype"]))
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["unknown"]))
	response[StatusData](t, byID["connect"])
	a.Equal(string(keyscope.CodeNotFound), errorCode(t, byID["missing"]))
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["badparams"]))
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["badkind"]))
	a.Equal(string(keyscope.CodeDecode), errorCode(t, byID["baddoc"]))
	a.Equal(string(keyscope.CodeValidation), errorCode(t, byID["range"]))
	a.False(m.Exists("k"))

	st := response[StatusData](t, byID["still"])
	a.True(st.Connected)
	a.Zero(st.Database)
}

func TestDaemonShutdown(t *testing.T) {
	a := require.New(t)
	events, byID := serve(t, newSession(t), []string{
		line(t, "bye", CmdShutdown, nil),
		line(t, "late", CmdStatus, nil),
	})
	a.True(response[ok](t, byID["bye"]).OK)
	a.NotContains(byID, "late")
	a.Len(events, 1)
}

type fakeProfiles struct {
	profiles map[string]profile.Profile
	touched  []string
}

func (f *fakeProfiles) Get(name string) (profile.Profile, error) {
	p, ok := f.profiles[name]
	if !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Touch(name string) error {
	f.touched = append(f.touched, name)
	return nil
}

func TestDaemonConnectProfile(t *testing.T) {
	a := require.New(t)
	m := miniredis.RunT(t)
	port, err := strconv.Atoi(m.Port())
	a.NoError(err)

	store := &fakeProfiles{profiles: map[string]profile.Profile{
		"local": {Name: "local", Host: m.Host(), Port: port, Database: 2},
	}}
	opens := 0
	open := func() (Profiles, error) {
		opens++
		return store, nil
	}

	_, byID := serve(t, newSession(t), []string{
		line(t, "missing", CmdConnectProfile, ConnectProfileParams{Name: "prod"}),
		line(t, "local", CmdConnectProfile, ConnectProfileParams{Name: "local"}),
	}, WithProfiles(open))

	a.Equal(string(keyscope.CodeNotFound), errorCode(t, byID["missing"]))
	st := response[StatusData](t, byID["local"])
	a.True(st.Connected)
	a.Equal(2, st.Database)
	a.Equal([]string{"local"}, store.touched)
	a.Equal(1, opens)
}

func TestDaemonConnectProfileUnconfigured(t *testing.T) {
	_, byID := serve(t, newSession(t), []string{
		line(t, "p", CmdConnectProfile, ConnectProfileParams{Name: "local"}),
	})
	require.Equal(t, string(keyscope.CodeValidation), errorCode(t, byID["p"]))
}

func ptr[T any](v T) *T { return &v }

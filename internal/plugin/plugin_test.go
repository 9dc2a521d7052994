package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/offline-go/internal/domain"
)

type mockOrchestrator struct {
	submitted []domain.RegionDownload
	cancelled []domain.RegionDownload
	groups    []domain.GroupDownload
	groupKeys []string
	submitErr error
}

func (m *mockOrchestrator) Submit(download domain.RegionDownload) error {
	m.submitted = append(m.submitted, download)
	return m.submitErr
}

func (m *mockOrchestrator) Cancel(ctx context.Context, download domain.RegionDownload) error {
	m.cancelled = append(m.cancelled, download)
	return nil
}

func (m *mockOrchestrator) StartGroup(group domain.GroupDownload) error {
	m.groups = append(m.groups, group)
	return nil
}

func (m *mockOrchestrator) CancelGroup(ctx context.Context, key string) error {
	m.groupKeys = append(m.groupKeys, key)
	return nil
}

type recordingListener struct {
	calls []string
}

func (r *recordingListener) OnCreate(d domain.RegionDownload)  { r.calls = append(r.calls, "create:"+d.Name) }
func (r *recordingListener) OnSuccess(d domain.RegionDownload) { r.calls = append(r.calls, "success:"+d.Name) }
func (r *recordingListener) OnCancel(d domain.RegionDownload)  { r.calls = append(r.calls, "cancel:"+d.Name) }
func (r *recordingListener) OnError(d domain.RegionDownload, reason, message string) {
	r.calls = append(r.calls, "error:"+reason)
}
func (r *recordingListener) OnProgress(d domain.RegionDownload, percentage int) {
	r.calls = append(r.calls, "progress")
}

type recordingGroupListener struct {
	calls   []string
	members []string
}

func (r *recordingGroupListener) OnSuccess(g domain.GroupDownload) { r.calls = append(r.calls, "success") }
func (r *recordingGroupListener) OnCancel(g domain.GroupDownload)  { r.calls = append(r.calls, "cancel") }
func (r *recordingGroupListener) OnError(g domain.GroupDownload, reason, message string) {
	r.calls = append(r.calls, "error:"+reason)
}
func (r *recordingGroupListener) OnProgress(g domain.GroupDownload) { r.calls = append(r.calls, "progress") }
func (r *recordingGroupListener) OnPartialSuccess(g domain.GroupDownload, member domain.RegionDownload) {
	r.calls = append(r.calls, "partial")
	r.members = append(r.members, member.Name)
}

func download(name string, id int64) domain.RegionDownload {
	d := domain.NewRegionDownload(name, domain.RegionDefinition{StyleURL: "https://tiles/{z}/{x}/{y}.png"}, nil, domain.NotificationOptions{})
	return d.WithID(id).WithState(domain.StateActive)
}

func TestPlugin_DelegatesToOrchestrator(t *testing.T) {
	orch := &mockOrchestrator{submitErr: domain.ErrClosed}
	p := New(orch, nil)

	d := download("berlin", 0)
	assert.ErrorIs(t, p.StartDownload(d), domain.ErrClosed)
	require.NoError(t, p.CancelDownload(context.Background(), d))

	group := domain.NewGroupDownload([]domain.RegionDownload{d}, domain.NotificationOptions{})
	require.NoError(t, p.StartGroupedDownload(group))
	require.NoError(t, p.CancelGroupedDownload(context.Background()))

	assert.Len(t, orch.submitted, 1)
	assert.Len(t, orch.cancelled, 1)
	assert.Len(t, orch.groups, 1)
	assert.Equal(t, []string{""}, orch.groupKeys)
}

func TestPlugin_TracksDownloads(t *testing.T) {
	p := New(&mockOrchestrator{}, nil)
	listener := &recordingListener{}
	p.AddListener(listener)

	berlin, paris := download("berlin", 1), download("paris", 2)
	p.Handle(domain.NewDownloadEvent(domain.EventStarted, berlin))
	p.Handle(domain.NewDownloadEvent(domain.EventStarted, paris))
	p.Handle(domain.NewDownloadEvent(domain.EventProgress, berlin.WithProgress(40)))
	p.Handle(domain.NewDownloadEvent(domain.EventError, berlin).WithError(domain.ReasonConnection, "reset"))

	active := p.ActiveDownloads()
	require.Len(t, active, 2)
	assert.Equal(t, "berlin", active[0].Name)
	assert.Equal(t, 40, active[0].Progress)

	p.Handle(domain.NewDownloadEvent(domain.EventFinished, berlin))
	p.Handle(domain.NewDownloadEvent(domain.EventCancelled, paris))

	assert.Empty(t, p.ActiveDownloads())
	assert.Equal(t, []string{
		"create:berlin", "create:paris", "progress", "error:connection", "success:berlin", "cancel:paris",
	}, listener.calls)

	p.RemoveListener(listener)
	p.Handle(domain.NewDownloadEvent(domain.EventStarted, berlin))
	assert.Len(t, listener.calls, 6)
}

func TestPlugin_CancelDownloadByKey(t *testing.T) {
	orch := &mockOrchestrator{}
	p := New(orch, nil)

	berlin := download("berlin", 1)
	p.Handle(domain.NewDownloadEvent(domain.EventStarted, berlin))

	got, err := p.CancelDownloadByKey(context.Background(), berlin.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	require.Len(t, orch.cancelled, 1)
	assert.Equal(t, berlin.Key, orch.cancelled[0].Key)

	_, err = p.CancelDownloadByKey(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPlugin_TracksGroup(t *testing.T) {
	p := New(&mockOrchestrator{}, nil)
	listener := &recordingGroupListener{}
	p.AddGroupListener(listener)

	first, second := download("first", 1), download("second", 2)
	group := domain.NewGroupDownload([]domain.RegionDownload{first, second}, domain.NotificationOptions{})
	active := group.WithCurrent(&first).WithState(domain.StateActive)

	p.Handle(domain.NewGroupEvent(domain.EventStarted, active))
	current, ok := p.ActiveGroup()
	require.True(t, ok)
	assert.Equal(t, group.Key, current.Key)

	p.Handle(domain.NewGroupEvent(domain.EventProgress, active.WithProgress(50)))
	p.Handle(domain.NewGroupEvent(domain.EventPartialSuccess, active.WithProgress(50)).WithMember(first))
	current, _ = p.ActiveGroup()
	assert.Equal(t, 50, current.Progress)

	p.Handle(domain.NewGroupEvent(domain.EventPartialSuccess, active).WithMember(second))
	p.Handle(domain.NewGroupEvent(domain.EventFinished, active.WithCurrent(nil).WithProgress(100)))

	_, ok = p.ActiveGroup()
	assert.False(t, ok)
	assert.Equal(t, []string{"progress", "partial", "partial", "success"}, listener.calls)
	assert.Equal(t, []string{"first", "second"}, listener.members)
}

func TestPlugin_RejectedGroupKeepsActiveOne(t *testing.T) {
	p := New(&mockOrchestrator{}, nil)
	listener := &recordingGroupListener{}
	p.AddGroupListener(listener)

	first := download("first", 1)
	active := domain.NewGroupDownload([]domain.RegionDownload{first}, domain.NotificationOptions{})
	p.Handle(domain.NewGroupEvent(domain.EventStarted, active))

	rejected := domain.NewGroupDownload([]domain.RegionDownload{download("other", 0)}, domain.NotificationOptions{})
	p.Handle(domain.NewGroupEvent(domain.EventError, rejected).WithError(domain.ReasonAlreadyActive, "busy"))
	p.Handle(domain.NewGroupEvent(domain.EventCancelled, rejected))

	current, ok := p.ActiveGroup()
	require.True(t, ok)
	assert.Equal(t, active.Key, current.Key)
	assert.Equal(t, []string{"error:already_active", "cancel"}, listener.calls)

	p.RemoveGroupListener(listener)
	p.Handle(domain.NewGroupEvent(domain.EventCancelled, active))
	assert.Len(t, listener.calls, 2)
	_, ok = p.ActiveGroup()
	assert.False(t, ok)
}

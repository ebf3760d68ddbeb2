package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/internal/gpt"
	"github.com/BatmanBruc/gpt-bot/internal/metrics"
	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/internal/quota"
	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/store"
	"github.com/BatmanBruc/gpt-bot/types"
)

type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	photos  []string
	deleted []int
	sendErr error
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, p.Text)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &models.Message{ID: len(f.texts)}, nil
}

func (f *fakeSender) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	return &models.Message{ID: p.MessageID}, nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, p *bot.DeleteMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p.MessageID)
	return true, nil
}

func (f *fakeSender) SendPhoto(_ context.Context, p *bot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := p.Photo.(*models.InputFileString); ok {
		f.photos = append(f.photos, in.Data)
	}
	return &models.Message{}, nil
}

type fakeLLM struct {
	calls   int
	seen    []types.ChatMessage
	err     error
	content string
}

func (f *fakeLLM) Complete(_ context.Context, msgs []types.ChatMessage, _ pricing.Model) (*gpt.Completion, error) {
	f.calls++
	f.seen = msgs
	if f.err != nil {
		return nil, f.err
	}
	return &gpt.Completion{Content: f.content}, nil
}

func (f *fakeLLM) GenerateImage(_ context.Context, _ string, _ pricing.Model, _ pricing.ImageSettings) (*gpt.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gpt.Image{URL: "https://img.example/1.png"}, nil
}

type fixture struct {
	mem    *store.MemoryStore
	llm    *fakeLLM
	sender *fakeSender
	m      *metrics.Metrics
	s      *Scheduler
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	mem := store.NewMemoryStore(10)
	_, err := mem.UpsertUser(context.Background(), types.User{ID: 1, ChatID: 10})
	require.NoError(t, err)

	clock := timeutil.FixedClock{T: time.Date(2024, 3, 14, 12, 0, 0, 0, timeutil.Location)}
	m := metrics.New("test")
	q := quota.NewService(mem, mem, mem, clock, zerolog.Nop(), m, quota.Config{CAS: true})
	llm := &fakeLLM{content: "42"}
	sender := &fakeSender{}
	s := NewScheduler(q, llm, mem, mem, sender, zerolog.Nop(), m, Config{Workers: workers})
	return &fixture{mem: mem, llm: llm, sender: sender, m: m, s: s}
}

func chatJob(id string) *types.Job {
	return &types.Job{ID: id, UserID: 1, ChatID: 10, Kind: types.KindText, Model: types.ModelGPT3, Prompt: "question", Lang: "en"}
}

func TestProcessChatJobRecordsUsage(t *testing.T) {
	f := newFixture(t, 1)
	job := chatJob("a")

	require.NoError(t, f.s.processJob(job))
	assert.Equal(t, types.JobDone, job.State)
	assert.Equal(t, []string{"42"}, f.sender.texts)

	history, err := f.mem.GetContext(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)

	user, err := f.mem.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, user.UsageStats.Model(types.ModelGPT3).Count)

	require.NoError(t, f.s.processJob(chatJob("b")))
	assert.Len(t, f.llm.seen, 3, "history is sent along with the new question")
}

func TestProcessJobStopsAtLimit(t *testing.T) {
	f := newFixture(t, 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.s.processJob(chatJob("ok")))
	}
	calls := f.llm.calls

	job := chatJob("denied")
	require.NoError(t, f.s.processJob(job))
	assert.Equal(t, calls, f.llm.calls, "no model call once the limit is reached")
	assert.Contains(t, f.sender.texts[len(f.sender.texts)-1], "Limit reached")
}

func TestProcessJobLLMErrorIsNotCharged(t *testing.T) {
	f := newFixture(t, 1)
	f.llm.err = &gpt.Error{Status: 500, Message: "boom"}

	job := chatJob("a")
	err := f.s.processJob(job)
	require.Error(t, err)
	var gerr *gpt.Error
	assert.True(t, errors.As(err, &gerr))
	assert.Equal(t, types.JobError, job.State)

	user, err := f.mem.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, user.UsageStats.Model(types.ModelGPT3).Count)
	assert.Contains(t, f.sender.texts[0], "boom")
}

func TestProcessJobUndeliveredAnswerIsCharged(t *testing.T) {
	f := newFixture(t, 1)
	f.sender.sendErr = errors.New("Forbidden: bot was blocked by the user")

	job := chatJob("a")
	err := f.s.processJob(job)
	require.Error(t, err)
	assert.Equal(t, types.JobError, job.State)
	assert.Equal(t, 1, f.llm.calls)

	user, err := f.mem.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, user.UsageStats.Model(types.ModelGPT3).Count)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.DeliveryErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.m.LLMErrors.WithLabelValues("provider")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.m.LLMErrors.WithLabelValues("timeout")))
}

func TestProcessImageJob(t *testing.T) {
	f := newFixture(t, 1)
	job := &types.Job{ID: "img", UserID: 1, ChatID: 10, Kind: types.KindImage, Model: types.ModelDalle3, Prompt: "cat", Lang: "en"}

	require.NoError(t, f.s.processJob(job))
	assert.Equal(t, []string{"https://img.example/1.png"}, f.sender.photos)

	user, err := f.mem.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, user.UsageStats.Model(types.ModelDalle3).Count)
}

func TestProcessJobUnknownModel(t *testing.T) {
	f := newFixture(t, 1)
	job := chatJob("x")
	job.Model = "gpt9"
	require.Error(t, f.s.processJob(job))
	assert.Equal(t, 0, f.llm.calls)
}

func TestEnqueuePositions(t *testing.T) {
	f := newFixture(t, 1)

	assert.Equal(t, 0, f.s.Enqueue(chatJob("a"), 0))
	assert.Equal(t, 1, f.s.Enqueue(chatJob("b"), 0))
	assert.Equal(t, 2, f.s.Enqueue(chatJob("c"), 0))
	assert.Equal(t, -1, f.s.Enqueue(chatJob("b"), 0))
}

func TestFinishClearsWaiting(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	ok, err := f.mem.SetWaiting(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	f.s.finish(chatJob("a"))

	ok, err = f.mem.SetWaiting(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkersRunQueuedJobs(t *testing.T) {
	f := newFixture(t, 2)
	f.s.Start()
	defer f.s.Stop()

	f.s.Enqueue(chatJob("a"), 5)
	require.Eventually(t, func() bool {
		f.sender.mu.Lock()
		defer f.sender.mu.Unlock()
		return len(f.sender.deleted) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Equal(t, []string{"42"}, f.sender.texts)
	assert.Equal(t, []int{5}, f.sender.deleted)
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/gpt"
	"github.com/BatmanBruc/gpt-bot/internal/i18n"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/internal/metrics"
	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/internal/quota"
	"github.com/BatmanBruc/gpt-bot/types"
)

// Sender is the part of the Telegram client the workers talk to.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

type Scheduler struct {
	quota      *quota.Service
	llm        gpt.Client
	contexts   types.ContextStore
	waiting    types.WaitingStore
	sender     Sender
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	workers    int
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	jobQueue   chan *types.Job
	inFlight   map[string]*inFlightEntry
	inFlightMu sync.RWMutex
}

const maxCaption = 1024

type inFlightEntry struct {
	chatID    int64
	messageID int
	position  int
	lang      i18n.Lang
}

type Config struct {
	Workers    int
	JobTimeout time.Duration
}

func NewScheduler(q *quota.Service, llm gpt.Client, contexts types.ContextStore, waiting types.WaitingStore,
	sender Sender, logger zerolog.Logger, m *metrics.Metrics, config Config) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 3
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 3 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	queueSize := config.Workers * 2
	if queueSize < 10 {
		queueSize = 10
	}

	return &Scheduler{
		quota:      q,
		llm:        llm,
		contexts:   contexts,
		waiting:    waiting,
		sender:     sender,
		logger:     logger,
		metrics:    m,
		workers:    config.Workers,
		jobTimeout: config.JobTimeout,
		ctx:        ctx,
		cancel:     cancel,
		jobQueue:   make(chan *types.Job, queueSize),
		inFlight:   make(map[string]*inFlightEntry),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Int("workers", s.workers).Msg("scheduler started")

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// Enqueue queues a job and returns its queue position, 0 when a worker is
// free. messageID is the status message the workers keep up to date and
// delete when the job is done. A job already in flight returns -1.
func (s *Scheduler) Enqueue(job *types.Job, messageID int) int {
	s.inFlightMu.Lock()
	if _, exists := s.inFlight[job.ID]; exists {
		s.inFlightMu.Unlock()
		return -1
	}

	running := 0
	maxPos := 0
	for _, e := range s.inFlight {
		if e.position == 0 {
			running++
			continue
		}
		if e.position > maxPos {
			maxPos = e.position
		}
	}

	position := 0
	if running >= s.workers {
		position = maxPos + 1
	}

	job.State = types.JobQueued
	s.inFlight[job.ID] = &inFlightEntry{
		chatID:    job.ChatID,
		messageID: messageID,
		position:  position,
		lang:      i18n.Parse(job.Lang),
	}
	s.inFlightMu.Unlock()

	go func() {
		select {
		case s.jobQueue <- job:
		case <-s.ctx.Done():
			s.finish(job)
		}
	}()

	return position
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug().Int("worker", id).Msg("worker stopped")
			return
		case job := <-s.jobQueue:
			if err := s.processJob(job); err != nil {
				s.logger.Error().Err(err).Int("worker", id).Str("job_id", job.ID).Int64("user_id", job.UserID).Msg("job failed")
			}

			var entry *inFlightEntry
			s.inFlightMu.RLock()
			entry = s.inFlight[job.ID]
			s.inFlightMu.RUnlock()
			if entry != nil && entry.chatID != 0 && entry.messageID != 0 {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_, err := s.sender.DeleteMessage(ctx, &bot.DeleteMessageParams{
					ChatID:    entry.chatID,
					MessageID: entry.messageID,
				})
				cancel()
				if err != nil {
					s.logger.Warn().Err(err).Int64("chat_id", entry.chatID).Int("message_id", entry.messageID).Msg("delete status message")
				}
			}

			s.finish(job)
			s.decrementQueueAndUpdateMessages()
		}
	}
}

// finish drops the job from the queue and releases the user's waiting mark.
func (s *Scheduler) finish(job *types.Job) {
	s.inFlightMu.Lock()
	delete(s.inFlight, job.ID)
	s.inFlightMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.waiting.ClearWaiting(ctx, job.UserID); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", job.UserID).Msg("clear waiting")
	}
}

func (s *Scheduler) decrementQueueAndUpdateMessages() {
	type upd struct {
		chatID    int64
		messageID int
		text      string
	}
	updates := make([]upd, 0)

	s.inFlightMu.Lock()
	for _, entry := range s.inFlight {
		if entry.position == 0 {
			continue
		}
		entry.position--

		if entry.chatID == 0 || entry.messageID == 0 {
			continue
		}
		text := messages.QueueQueued(entry.lang, entry.position)
		if entry.position == 0 {
			text = messages.QueueStarted(entry.lang)
		}
		updates = append(updates, upd{chatID: entry.chatID, messageID: entry.messageID, text: text})
	}
	s.inFlightMu.Unlock()

	if len(updates) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, u := range updates {
		_, err := s.sender.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    u.chatID,
			MessageID: u.messageID,
			Text:      u.text,
			ParseMode: messages.ParseModeHTML,
		})
		if err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", u.chatID).Int("message_id", u.messageID).Msg("queue update")
		}
	}
}

func (s *Scheduler) processJob(job *types.Job) error {
	job.State = types.JobProcessing
	lang := i18n.Parse(job.Lang)

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	model, ok := pricing.Lookup(job.Model)
	if !ok {
		s.send(job.ChatID, messages.ModelUnknown(lang))
		return s.fail(job, errors.New("unknown model "+string(job.Model)))
	}
	op := pricing.Operation{Model: model.Code}
	if model.Kind == types.KindImage {
		op.Image = pricing.ImageSettings{Size: job.Size, Quality: job.Quality}
	}

	decision, err := s.quota.Check(ctx, job.UserID, op)
	if err != nil {
		s.send(job.ChatID, messages.ErrorDefault(lang))
		return s.fail(job, err)
	}
	if !decision.Allowed {
		s.send(job.ChatID, messages.LimitReached(lang, job.Model, decision.Report))
		job.State = types.JobDone
		return nil
	}

	var deliver func(ctx context.Context) error
	if model.Kind == types.KindImage {
		deliver, err = s.runImage(ctx, job, model, op.Image)
	} else {
		deliver, err = s.runChat(ctx, job, model)
	}
	if err != nil {
		kind := "provider"
		if gpt.IsTimeout(err) {
			kind = "timeout"
		}
		if s.metrics != nil {
			s.metrics.LLMErrors.WithLabelValues(kind).Inc()
		}
		s.send(job.ChatID, messages.LLMError(lang, err))
		return s.fail(job, err)
	}

	// The provider produced a result, so it is charged even if Telegram
	// then fails to deliver it.
	if err := s.quota.Record(ctx, decision); err != nil {
		return s.fail(job, err)
	}
	if err := deliver(ctx); err != nil {
		if s.metrics != nil {
			s.metrics.DeliveryErrors.Inc()
		}
		return s.fail(job, fmt.Errorf("deliver result: %w", err))
	}
	job.State = types.JobDone
	return nil
}

// runChat asks the model and returns the delivery of its answer.
func (s *Scheduler) runChat(ctx context.Context, job *types.Job, model pricing.Model) (func(context.Context) error, error) {
	history, err := s.contexts.GetContext(ctx, job.UserID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", job.UserID).Msg("load chat context")
		history = nil
	}
	question := types.ChatMessage{Role: "user", Content: job.Prompt}
	completion, err := s.llm.Complete(ctx, append(history, question), model)
	if err != nil {
		return nil, err
	}

	if err := s.contexts.AppendContext(ctx, job.UserID, question, types.ChatMessage{Role: "assistant", Content: completion.Content}); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", job.UserID).Msg("append chat context")
	}
	return func(ctx context.Context) error {
		_, err := s.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: job.ChatID,
			Text:   completion.Content,
		})
		return err
	}, nil
}

func (s *Scheduler) runImage(ctx context.Context, job *types.Job, model pricing.Model, settings pricing.ImageSettings) (func(context.Context) error, error) {
	img, err := s.llm.GenerateImage(ctx, job.Prompt, model, settings)
	if err != nil {
		return nil, err
	}
	caption := img.RevisedPrompt
	if len([]rune(caption)) > maxCaption {
		caption = string([]rune(caption)[:maxCaption])
	}
	return func(ctx context.Context) error {
		_, err := s.sender.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  job.ChatID,
			Photo:   &models.InputFileString{Data: img.URL},
			Caption: caption,
		})
		return err
	}, nil
}

// send uses its own deadline so errors can still be reported after the job
// context expired.
func (s *Scheduler) send(chatID int64, text string) {
	if chatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

func (s *Scheduler) fail(job *types.Job, err error) error {
	job.State = types.JobError
	job.Error = err.Error()
	return err
}

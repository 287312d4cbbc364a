package worker

import (
	"context"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/messages"
	"github.com/castgate/castgate/internal/pkg/upload"
	"github.com/castgate/castgate/internal/pkg/utils"
	"github.com/castgate/castgate/internal/pkg/utils/handler"
	"github.com/vgarvardt/gue/v5"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// Tracker marks jobs failed when a poll message exhausts its retries
type Tracker interface {
	Fail(ctx context.Context, jobID, errMsg string) bool
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	MsgSender   MsgSender
	Tracker     Tracker
	Poller      *upload.Poller
	Testing     bool
}

// StartWorkerService starts the event queue listener service to listen for poll messages
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}

	wm := gue.WorkMap{
		messages.Work: handler.Create(data, handlePoll, handler.DefaultOpts[messages.PollMessage]().
			WithFailure(makeFailureHandler(data)).
			WithTimeout(time.Minute*20).WithBackoff(handler.DefaultBackoffOrTest(data.Testing))),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Work),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("castgate-worker"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

func validate(data *ServiceData) error {
	if data == nil {
		return fmt.Errorf("no data")
	}
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.Tracker == nil {
		return fmt.Errorf("no tracker")
	}
	if data.Poller == nil {
		return fmt.Errorf("no poller")
	}
	return nil
}

func handlePoll(ctx context.Context, m *messages.PollMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling poll")
	return data.Poller.Run(ctx, m)
}

// makeFailureHandler marks the job failed and informs the user
// once the message runs out of retries
func makeFailureHandler(data *ServiceData) func(context.Context, *messages.PollMessage, error, *gue.Job) (bool, time.Duration, error) {
	return func(ctx context.Context, m *messages.PollMessage, err error, j *gue.Job) (bool, time.Duration, error) {
		if j.ErrorCount <= 3 {
			return true, 0, nil
		}
		goapp.Log.Info().Str("ID", m.ID).Int32("errCount", j.ErrorCount).Msg("retries exhausted, mark failed")
		data.Tracker.Fail(ctx, m.ID, err.Error())
		if errS := data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
			QueueMessage: *amessages.NewQueueMessageFromM(&m.QueueMessage),
			Type:         amessages.InformTypeFailed, At: time.Now()}, messages.Inform); errS != nil {
			goapp.Log.Warn().Err(errS).Str("ID", m.ID).Msg("can't send inform msg")
		}
		return false, 0, nil
	}
}

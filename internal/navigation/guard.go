package navigation

import (
	"context"
	"fmt"

	"draftsync/internal/domain"
	"draftsync/internal/events"
	"draftsync/internal/models"

	"github.com/rs/zerolog"
)

type Choice int

const (
	ChoiceCancel Choice = iota
	ChoiceSaveAndContinue
	ChoiceDiscard
)

func (c Choice) String() string {
	switch c {
	case ChoiceSaveAndContinue:
		return "save_and_continue"
	case ChoiceDiscard:
		return "discard"
	default:
		return "cancel"
	}
}

// ParseChoice accepts the names returned by Choice.String.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "save_and_continue", "save":
		return ChoiceSaveAndContinue, nil
	case "discard":
		return ChoiceDiscard, nil
	case "cancel", "":
		return ChoiceCancel, nil
	default:
		return ChoiceCancel, fmt.Errorf("unknown choice %q", s)
	}
}

// Prompter asks the user what to do with unsaved surfaces before leaving.
type Prompter interface {
	Prompt(ctx context.Context, target string, registered int) (Choice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, target string, registered int) (Choice, error)

func (f PrompterFunc) Prompt(ctx context.Context, target string, registered int) (Choice, error) {
	return f(ctx, target, registered)
}

// Decision is what happened to one switch request.
type Decision struct {
	Prompted bool
	Choice   Choice
	Switched bool
	Batch    *models.BatchResult
}

type Guard struct {
	syncer    domain.BatchSyncer
	prompter  Prompter
	publisher domain.EventPublisher
	logger    *zerolog.Logger
}

func NewGuard(syncer domain.BatchSyncer, prompter Prompter, publisher domain.EventPublisher, logger *zerolog.Logger) *Guard {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Guard{
		syncer:    syncer,
		prompter:  prompter,
		publisher: publisher,
		logger:    logger,
	}
}

// RequestSwitch runs switchFn directly when nothing is registered or a batch sync is
// already running. Otherwise the user chooses between saving first, discarding or staying.
func (g *Guard) RequestSwitch(ctx context.Context, target string, switchFn func() error) (Decision, error) {
	count := g.syncer.RegisteredCount()
	if count == 0 || g.syncer.Syncing() {
		return Decision{Choice: ChoiceDiscard, Switched: true}, switchFn()
	}

	choice, err := g.prompter.Prompt(ctx, target, count)
	if err != nil {
		return Decision{Prompted: true}, fmt.Errorf("navigation prompt: %w", err)
	}
	d := Decision{Prompted: true, Choice: choice}
	g.logger.Debug().Str("target", target).Str("choice", choice.String()).Msg("navigation guard answered")

	switch choice {
	case ChoiceSaveAndContinue:
		res, err := g.syncer.SyncAll(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Msg("save before switch did not run")
		} else {
			d.Batch = &res
			if res.Failed > 0 || res.Conflicted > 0 {
				events.Notify(g.publisher, models.Notice{
					Level:   models.NoticeInfo,
					Message: fmt.Sprintf("Switched to %s. Some changes were not saved yet; see the sync summary.", target),
					Action:  models.ActionNone,
				})
			}
		}
		d.Switched = true
		return d, switchFn()
	case ChoiceDiscard:
		d.Switched = true
		return d, switchFn()
	default:
		return d, nil
	}
}

// BeforeUnload reports whether an unload should show the native confirmation prompt.
func (g *Guard) BeforeUnload() bool {
	return g.syncer.RegisteredCount() > 0
}

package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
)

const (
	TopicAppointmentStatus = "provider.appointment.status.v1"
	TopicProfileUpserted   = "provider.profile.upserted.v1"
)

// Engine is the part of the scheduling engine the consumer drives.
type Engine interface {
	Transition(ctx context.Context, id string, action model.Action, actor scheduling.Actor) (model.Appointment, error)
	UpsertProvider(ctx context.Context, p model.Provider) error
}

type statusChanged struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	// Status accepts either an action ("approve") or the target status ("approved").
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
}

type profileUpserted struct {
	ProviderID   string               `json:"provider_id"`
	Name         string               `json:"name"`
	Specialty    string               `json:"specialty"`
	Category     string               `json:"category"`
	HourlyPrice  float64              `json:"hourly_price"`
	Timezone     string               `json:"timezone"`
	Availability []model.WeeklyWindow `json:"availability"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Handlers returns the topic routing table for the booking consumer group.
func Handlers(engine Engine) map[string]Handler {
	return map[string]Handler{
		TopicAppointmentStatus: StatusHandler(engine),
		TopicProfileUpserted:   ProfileHandler(engine),
	}
}

func StatusHandler(engine Engine) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt statusChanged
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("%w: decode status event: %v", ErrSkip, err)
		}
		if evt.AppointmentID == "" || evt.Status == "" {
			return fmt.Errorf("%w: appointment_id and status are required", ErrSkip)
		}
		action, err := model.ParseAction(evt.Status)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}

		actor := scheduling.SystemActor
		if evt.ActorID != "" {
			actor.ID = evt.ActorID
		}
		_, err = engine.Transition(ctx, evt.AppointmentID, action, actor)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, scheduling.ErrNotFound),
			errors.Is(err, scheduling.ErrInvalidTransition),
			errors.Is(err, scheduling.ErrSlotUnavailable),
			errors.Is(err, scheduling.ErrUnauthorized):
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return err
	}
}

func ProfileHandler(engine Engine) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt profileUpserted
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("%w: decode profile event: %v", ErrSkip, err)
		}
		err := engine.UpsertProvider(ctx, model.Provider{
			ID:          evt.ProviderID,
			Name:        evt.Name,
			Specialty:   evt.Specialty,
			Category:    evt.Category,
			HourlyPrice: evt.HourlyPrice,
			Timezone:    evt.Timezone,
			Weekly:      evt.Availability,
			UpdatedAt:   evt.UpdatedAt,
		})
		if errors.Is(err, scheduling.ErrInvalidRequest) {
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return err
	}
}

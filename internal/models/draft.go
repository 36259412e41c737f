package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DraftKind identifies the editing surface a draft belongs to.
type DraftKind string

const (
	KindAssignment    DraftKind = "assignment"
	KindQuiz          DraftKind = "quiz"
	KindFlashcards    DraftKind = "flashcards"
	KindPresentations DraftKind = "presentations"
)

const (
	SubKindQuiz      = "quiz"
	SubKindFinalTest = "final_test"
)

var ErrInvalidKey = errors.New("invalid draft key")

// ParseDraftKind validates a raw kind string.
func ParseDraftKind(raw string) (DraftKind, error) {
	switch k := DraftKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindAssignment, KindQuiz, KindFlashcards, KindPresentations:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown draft kind %q", ErrInvalidKey, raw)
	}
}

// DraftKey is the uniqueness triple of a draft record.
type DraftKey struct {
	EntityID string    `json:"entity_id"`
	Kind     DraftKind `json:"draft_kind"`
	SubKind  string    `json:"draft_sub_kind,omitempty"`
}

func (k DraftKey) Validate() error {
	if strings.TrimSpace(k.EntityID) == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidKey)
	}
	if _, err := ParseDraftKind(string(k.Kind)); err != nil {
		return err
	}
	if k.Kind == KindQuiz && k.SubKind == "" {
		return fmt.Errorf("%w: quiz drafts require a sub-kind", ErrInvalidKey)
	}
	return nil
}

// SurfaceKey is the registry key of a surface within one parent entity, e.g. "quiz:final_test".
func (k DraftKey) SurfaceKey() string {
	if k.SubKind == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.SubKind
}

// StorageKey is the local mirror key: draft:<entity>:<kind>[:<subkind>].
func (k DraftKey) StorageKey() string {
	return MirrorKeyPrefix + k.EntityID + ":" + k.SurfaceKey()
}

// ParseSurfaceKey is the inverse of SurfaceKey for one parent entity.
func ParseSurfaceKey(entityID, surfaceKey string) (DraftKey, error) {
	kind, subKind, _ := strings.Cut(surfaceKey, ":")
	k, err := ParseDraftKind(kind)
	if err != nil {
		return DraftKey{}, err
	}
	key := DraftKey{EntityID: entityID, Kind: k, SubKind: subKind}
	return key, key.Validate()
}

func (k DraftKey) String() string {
	return k.EntityID + "/" + k.SurfaceKey()
}

// RemoteDraft is what the draft store returns for a read.
type RemoteDraft struct {
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

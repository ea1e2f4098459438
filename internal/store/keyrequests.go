package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/google/uuid"
)

// orAbsent turns a malformed stored request into a miss.
func orAbsent[T any](ctx context.Context, s *Store, v *T, err error) (*T, error) {
	if errors.Is(err, common.ErrMalformedRecord) {
		s.log.Warn(ctx, "ignoring malformed key request", "err", err)
		return nil, nil
	}
	return v, err
}

// FindOutgoingRequest returns the room key request for body, nil if none.
func (s *Store) FindOutgoingRequest(ctx context.Context, body models.RoomKeyRequestBody) (*models.OutgoingKeyRequest, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	req, err := s.repos.KeyRequests(db).FindOutgoingByBody(ctx, body)
	return orAbsent(ctx, s, req, err)
}

func (s *Store) FindOutgoingSecretRequest(ctx context.Context, secretName string) (*models.OutgoingKeyRequest, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	req, err := s.repos.KeyRequests(db).FindOutgoingBySecret(ctx, secretName)
	return orAbsent(ctx, s, req, err)
}

// GetOrCreateOutgoingRequest returns the stored request asking for the same
// room key or secret as req. Otherwise req is stored as a new Unsent request
// and returned; an empty request id is filled with a fresh UUID.
func (s *Store) GetOrCreateOutgoingRequest(ctx context.Context, req *models.OutgoingKeyRequest) (*models.OutgoingKeyRequest, error) {
	if req == nil || !req.Valid() {
		return nil, fmt.Errorf("%w: outgoing request needs either a room key body or a secret name", common.ErrMalformedRecord)
	}

	var result *models.OutgoingKeyRequest
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.KeyRequests(tx)

		var (
			existing *models.OutgoingKeyRequest
			err      error
		)
		if req.RequestBody != nil {
			existing, err = repo.FindOutgoingByBody(ctx, *req.RequestBody)
		} else {
			existing, err = repo.FindOutgoingBySecret(ctx, req.SecretName)
		}
		if existing, err = orAbsent(ctx, s, existing, err); err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		created := *req
		if created.RequestID == "" {
			created.RequestID = uuid.NewString()
		}
		created.State = models.OutgoingUnsent
		created.CreatedAt = s.nowMillis()
		if created.Recipients == nil {
			created.Recipients = map[string][]string{}
		}
		if err := repo.UpsertOutgoing(ctx, &created); err != nil {
			return err
		}
		result = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindOutgoingRequestByState returns the oldest request in one of states.
func (s *Store) FindOutgoingRequestByState(ctx context.Context, states ...models.OutgoingRequestState) (*models.OutgoingKeyRequest, error) {
	reqs, err := s.OutgoingRequestsByState(ctx, states...)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return reqs[0], nil
}

// OutgoingRequestsByState returns every request in one of states, oldest
// first.
func (s *Store) OutgoingRequestsByState(ctx context.Context, states ...models.OutgoingRequestState) ([]*models.OutgoingKeyRequest, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.KeyRequests(db).ListOutgoingByState(ctx, states...)
}

// UpdateOutgoingRequest stores req under its request id, replacing any
// stored request with that id. A request without a creation time is stamped
// with the current time.
func (s *Store) UpdateOutgoingRequest(ctx context.Context, req *models.OutgoingKeyRequest) error {
	if req == nil || !req.Valid() || req.RequestID == "" {
		return fmt.Errorf("%w: outgoing request needs an id and either a room key body or a secret name", common.ErrMalformedRecord)
	}
	stored := *req
	if stored.CreatedAt == 0 {
		stored.CreatedAt = s.nowMillis()
	}
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.KeyRequests(tx).UpsertOutgoing(ctx, &stored)
	})
}

// UpdateOutgoingRequestState moves a request to state and returns it.
func (s *Store) UpdateOutgoingRequestState(ctx context.Context, requestID string, state models.OutgoingRequestState) (*models.OutgoingKeyRequest, error) {
	var updated *models.OutgoingKeyRequest
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.KeyRequests(tx)
		req, err := repo.GetOutgoing(ctx, requestID)
		if req, err = orAbsent(ctx, s, req, err); err != nil {
			return err
		}
		if req == nil {
			return fmt.Errorf("outgoing request %s: %w", requestID, common.ErrorNotFound)
		}
		if !req.State.CanTransition(state) {
			return fmt.Errorf("%w: %s to %s", common.ErrInvalidTransition, req.State, state)
		}
		req.State = state
		if err := repo.UpsertOutgoing(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteOutgoingRequest(ctx context.Context, requestID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.KeyRequests(tx).DeleteOutgoing(ctx, requestID)
	})
}

// PutIncomingRequest stores req, replacing the request with the same user,
// device and request id.
func (s *Store) PutIncomingRequest(ctx context.Context, req *models.IncomingKeyRequest) error {
	if req == nil || req.UserID == "" || req.DeviceID == "" || req.RequestID == "" {
		return fmt.Errorf("%w: incoming request without user, device or request id", common.ErrMalformedRecord)
	}
	if req.RequestBody == nil && req.SecretName == "" {
		return fmt.Errorf("%w: incoming request %s asks for nothing", common.ErrMalformedRecord, req.RequestID)
	}
	if req.CreatedAt == 0 {
		c := *req
		c.CreatedAt = s.nowMillis()
		req = &c
	}
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.KeyRequests(tx).ReplaceIncoming(ctx, req)
	})
}

func (s *Store) DeleteIncomingRequest(ctx context.Context, req *models.IncomingKeyRequest) error {
	if req == nil {
		return nil
	}
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.KeyRequests(tx).DeleteIncoming(ctx, req.UserID, req.DeviceID, req.RequestID)
	})
}

func (s *Store) FindIncomingRequest(ctx context.Context, userID, deviceID, requestID string) (*models.IncomingKeyRequest, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	req, err := s.repos.KeyRequests(db).GetIncoming(ctx, userID, deviceID, requestID)
	return orAbsent(ctx, s, req, err)
}

// AllPendingIncomingRequests returns the requests still awaiting a decision.
func (s *Store) AllPendingIncomingRequests(ctx context.Context) ([]*models.IncomingKeyRequest, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.KeyRequests(db).ListIncomingByState(ctx, models.IncomingRequested)
}

// TidyUp deletes outgoing requests older than the configured retention and
// returns how many were removed.
func (s *Store) TidyUp(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	var n int64
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = s.repos.KeyRequests(tx).DeleteOutgoingCreatedBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug(ctx, "tidied up outgoing key requests", "removed", n)
	}
	return n, nil
}

// Room repository encapsulates the data access logic (interactions with the DB)
// related to the room membership mirror in Carewire.
// The in-memory registry stays the source of truth; the mirror makes presence
// visible across restarts and to operational tooling.

package room

import (
	"Carewire/internal/errors"
	"Carewire/pkg/db"
	"Carewire/pkg/log"
	"context"
)

type Repository interface {
	// AddClient adds a connected session id to the gateway clients mirror set.
	AddClient(ctx context.Context, logger log.Logger, sessionID string) error
	// RemoveClient removes a disconnected session id from the mirror set.
	RemoveClient(ctx context.Context, logger log.Logger, sessionID string) error
	// AddMember mirrors a room membership into the DB.
	AddMember(ctx context.Context, logger log.Logger, roomKey string, sessionID string) error
	// RemoveMember removes a mirrored room membership from the DB.
	RemoveMember(ctx context.Context, logger log.Logger, roomKey string, sessionID string) error
	// DeleteRoom drops the whole mirrored member set of a room.
	DeleteRoom(ctx context.Context, logger log.Logger, roomKey string) error
}

// repository struct of room Repository.
// Object of this will be passed around from main to internal.
// Helps to access the repository layer interface and call methods.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of room repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

// Returns nil if session id got successfully added into the DB.
func (r repository) AddClient(ctx context.Context, logger log.Logger, sessionID string) error {
	dberr := r.db.Client().SAdd(ctx, "gateway_clients", sessionID).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of SAdd in room.AddClient")
		return errors.InternalServerError("")
	}
	return nil
}

// Returns nil if session id got successfully removed from the DB.
func (r repository) RemoveClient(ctx context.Context, logger log.Logger, sessionID string) error {
	dberr := r.db.Client().SRem(ctx, "gateway_clients", sessionID).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of SRem in room.RemoveClient")
		return errors.InternalServerError("")
	}
	return nil
}

// Returns nil if the membership got successfully mirrored into the DB.
func (r repository) AddMember(ctx context.Context, logger log.Logger, roomKey string, sessionID string) error {
	dberr := r.db.Client().SAdd(ctx, "room-members:"+roomKey, sessionID).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of SAdd in room.AddMember")
		return errors.InternalServerError("")
	}
	return nil
}

// Returns nil if the membership mirror got successfully removed from the DB.
func (r repository) RemoveMember(ctx context.Context, logger log.Logger, roomKey string, sessionID string) error {
	dberr := r.db.Client().SRem(ctx, "room-members:"+roomKey, sessionID).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of SRem in room.RemoveMember")
		return errors.InternalServerError("")
	}
	return nil
}

// Returns nil if the mirrored member set of the room got successfully dropped.
func (r repository) DeleteRoom(ctx context.Context, logger log.Logger, roomKey string) error {
	dberr := r.db.Client().Del(ctx, "room-members:"+roomKey).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of Del in room.DeleteRoom")
		return errors.InternalServerError("")
	}
	return nil
}

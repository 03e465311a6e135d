package policy

import (
	"assetflow/internal/model"

	"gorm.io/gorm"
)

// Scope returns a gorm scope restricting asset_requests to the rows the actor may see.
// It only adds WHERE conditions, so it composes with any search, sort or paging applied after it.
func Scope(actor Actor) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch actor.Role {
		case RoleAdmin:
			return db
		case RoleSE:
			return db.Where("asset_requests.requester_id = ?", actor.ID)
		case RoleDB:
			if actor.DistributorID == nil {
				return denyAll(db)
			}
			return db.Where("asset_requests.distributor_id = ? AND asset_requests.requester_id = ?", *actor.DistributorID, actor.ID)
		case RoleBM:
			return db.Where("(asset_requests.requester_id = ? OR asset_requests.distributor_id IN (?))",
				actor.ID, managedDistributorIDs(db, "bm_id", actor.ID))
		case RoleRH:
			return db.Where("(asset_requests.requester_id = ? OR asset_requests.distributor_id IN (?))",
				actor.ID, managedDistributorIDs(db, "rh_id", actor.ID))
		default:
			return denyAll(db)
		}
	}
}

// DistributorScope restricts distributors to the ones the actor may submit requests against.
func DistributorScope(actor Actor) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch actor.Role {
		case RoleAdmin:
			return db
		case RoleSE:
			return db.Where("distributors.se_id = ?", actor.ID)
		case RoleBM:
			return db.Where("distributors.bm_id = ?", actor.ID)
		case RoleRH:
			return db.Where("distributors.rh_id = ?", actor.ID)
		case RoleDB:
			if actor.DistributorID == nil {
				return denyAll(db)
			}
			return db.Where("distributors.id = ?", *actor.DistributorID)
		default:
			return denyAll(db)
		}
	}
}

func managedDistributorIDs(db *gorm.DB, column string, userID uint) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).
		Model(&model.Distributor{}).
		Select("id").
		Where(column+" = ?", userID)
}

func denyAll(db *gorm.DB) *gorm.DB {
	return db.Where("1 = 0")
}

// Visible is the in-memory form of Scope. BM and RH checks need req.Distributor loaded.
func Visible(actor Actor, req *model.AssetRequest) bool {
	if req == nil {
		return false
	}
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleSE:
		return req.RequesterID == actor.ID
	case RoleDB:
		return actor.DistributorID != nil &&
			req.DistributorID == *actor.DistributorID &&
			req.RequesterID == actor.ID
	case RoleBM:
		return req.RequesterID == actor.ID || (req.Distributor != nil && sameUser(req.Distributor.BMID, actor.ID))
	case RoleRH:
		return req.RequesterID == actor.ID || (req.Distributor != nil && sameUser(req.Distributor.RHID, actor.ID))
	default:
		return false
	}
}

// InDistributorScope is the in-memory form of DistributorScope.
func InDistributorScope(actor Actor, d *model.Distributor) bool {
	if d == nil {
		return false
	}
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleSE:
		return sameUser(d.SEID, actor.ID)
	case RoleBM:
		return sameUser(d.BMID, actor.ID)
	case RoleRH:
		return sameUser(d.RHID, actor.ID)
	case RoleDB:
		return actor.DistributorID != nil && d.ID == *actor.DistributorID
	default:
		return false
	}
}

func sameUser(id *uint, userID uint) bool {
	return id != nil && *id == userID
}

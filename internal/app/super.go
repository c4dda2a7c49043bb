package app

import (
	"errors"

	"github.com/microlink/wabridge/internal/domain"
	"github.com/microlink/wabridge/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// checkSuper ensures a super administrator exists so a fresh install is
// reachable through the admin API.
func (a *Application) checkSuper() {
	var opr domain.SysOpr
	err := a.gormDB.Where("username = ?", "admin").First(&opr).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		zap.S().Errorf("query super operator: %v", err)
		return
	}
	opr = domain.SysOpr{
		ID:       1,
		Realname: "administrator",
		Username: "admin",
		Password: common.Sha256HashWithSalt("wabridge", common.GetSecretSalt()),
		Level:    "super",
		Status:   common.ENABLED,
	}
	if err := a.gormDB.Create(&opr).Error; err != nil {
		zap.S().Errorf("create super operator: %v", err)
		return
	}
	zap.S().Info("created default super operator: admin")
}

package bootstrap

import "testing"

func TestGormConfig_TranslatesDriverErrors(t *testing.T) {
	if !gormConfig().TranslateError {
		t.Error("duplicate key inserts must surface as gorm.ErrDuplicatedKey")
	}
}

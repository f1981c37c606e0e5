package feeders

import (
	"errors"
)

// Affixed env feeder errors
var (
	ErrAffixedEnvInvalidStructure = errors.New("affixed env: expected pointer to struct")
	ErrAffixedEnvEmptyAffixes     = errors.New("affixed env: prefix or suffix must be set")
	ErrAffixedEnvFieldNotSettable = errors.New("affixed env: field cannot be set")
)

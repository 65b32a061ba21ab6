package novaexec

import (
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/txn"
)

type (
	DriverError    = errs.DriverError
	LifecycleError = errs.LifecycleError
	ConfigError    = errs.ConfigError
	TxState        = txn.State
)

var (
	ErrConfiguration     = errs.ErrConfiguration
	ErrTxDone            = errs.ErrTxDone
	ErrAlreadySubscribed = errs.ErrAlreadySubscribed
	ErrClosed            = errs.ErrClosed
	ErrNoRows            = errs.ErrNoRows
)

const (
	TxActive     = txn.Active
	TxCommitted  = txn.Committed
	TxRolledBack = txn.RolledBack
	TxClosed     = txn.Closed
)

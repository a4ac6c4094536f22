// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// ErrStorageUnavailable wraps every failure of the admit/log/cleanup
// transaction and of the log queries.
var ErrStorageUnavailable = errors.New("storage unavailable")

var ErrUnknownStorageDriver = errors.New("unknown storage driver")

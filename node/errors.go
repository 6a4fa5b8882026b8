package node

import "github.com/pkg/errors"

// ErrStoreIO wraps a filesystem failure surfaced from Publish. Dispatch-path
// store failures are logged, not returned, per the orchestrator's error policy.
var ErrStoreIO = errors.New("node: store i/o failure")

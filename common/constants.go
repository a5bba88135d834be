package common

import (
	"time"
)

const DefaultClientTimeout = time.Minute

const DefaultAdminAddr = "localhost:9091"
const DefaultGridAddr = "localhost:9090"

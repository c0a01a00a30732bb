// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import "os"

func stderrWrite(p []byte) (int, error) {
	return os.Stderr.Write(p)
}

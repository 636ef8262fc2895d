//go:build linux

package supervise

import (
	"fmt"
	"os"
	"strconv"
)

// setOOMScoreAdj writes the child's OOM score adjustment so the kernel
// OOM killer targets the fold job first.
func setOOMScoreAdj(pid, score int) error {
	path := fmt.Sprintf("/proc/%d/oom_score_adj", pid)
	return os.WriteFile(path, []byte(strconv.Itoa(score)), 0o644)
}

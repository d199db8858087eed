package reporter

import (
	"fmt"

	"ceph-e2e/common/e2e_config"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/reporters"
)

// GetReporters returns a JUnit reporter writing to the reports directory,
// none when no directory is configured.
func GetReporters(name string) []Reporter {
	cfg, err := e2e_config.GetConfig()
	if err != nil {
		fmt.Printf("No reporters: %v\n", err)
		return []Reporter{}
	}

	if cfg.ReportsDir == "" {
		return []Reporter{}
	}
	testGroupPrefix := "e2e."
	xmlFileSpec := cfg.ReportsDir + "/" + testGroupPrefix + name + "-junit.xml"
	junitReporter := reporters.NewJUnitReporter(xmlFileSpec)
	return []Reporter{junitReporter}
}

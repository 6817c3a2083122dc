// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByDirectory(t *testing.T) {
	assert.Equal(t, Test, Classify("/repo/tests/helpers.py", "setup", "function"))
	assert.Equal(t, Test, Classify("/repo/__tests__/app.test.js", "render", "function"))
	assert.Equal(t, Test, Classify("/repo/src/spec/widget_spec.rb", "build", "method"))
}

func TestClassifyByFileNameSuffix(t *testing.T) {
	assert.Equal(t, Test, Classify("/repo/internal/calc_test.go", "helper", "function"))
	assert.Equal(t, Test, Classify("/repo/app.spec.ts", "setup", "function"))
}

func TestClassifyByFunctionName(t *testing.T) {
	assert.Equal(t, Test, Classify("/repo/calc.go", "TestDivide", "function"))
	assert.Equal(t, Test, Classify("/repo/calc.py", "test_divide", "function"))
	assert.Equal(t, Test, Classify("/repo/calc.go", "Suite.TestDivide", "method"))
}

func TestClassifyDefaultsToCode(t *testing.T) {
	assert.Equal(t, Code, Classify("/repo/internal/calc.go", "Divide", "function"))
	assert.Equal(t, Code, Classify("/repo/lib/widgets.py", "attest_something", "function"))
}

package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultAnalyzePrompt = `You analyze Selenium (Python) UI test code before it is ported to Playwright.
Return one JSON object. Each key is a logical output file path without extension:
"pages/<page_name>" for every page object and "tests/test_<flow_name>" for every test.
Each value is a plain-text outline for that file: locators with their selectors,
page actions, test steps in order and every assertion. Do not write code yet.`

	DefaultBuildPrompt = `You generate Playwright + pytest code using the Page Object Model.
The user message is a JSON object outlining the files to produce.
Return one JSON object whose keys are file paths without extension under "pages/" or "tests/"
(optionally "conftest" or "tests/conftest") and whose values are complete Python source files.
Use Playwright locators and expect() assertions. Never use sleep() or assert True.`

	DefaultRebuildPrompt = `The previous output was invalid. Regenerate valid Python Playwright code using the Page Object Model.
Fix all issues listed below and validate output integrity. Do not return partial or broken code.
Return the complete JSON object again.`

	DefaultJSONReminder = `Respond with a single pure JSON object only: no prose, no markdown fences, no comments.`
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.convert_timeout", 15*time.Minute)

	v.SetDefault("backend.provider", ProviderLocal)
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.alternate_hosts", []string{})
	v.SetDefault("backend.scheme", "http")
	v.SetDefault("backend.default_port", 1234)
	v.SetDefault("backend.discover_outbound_ip", true)
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 300*time.Second)
	v.SetDefault("backend.probe_timeout", 3*time.Second)
	v.SetDefault("backend.debug_requests", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.rate_limit_delay", time.Second)
	v.SetDefault("retry.rate_limit_factor", 1.7)
	v.SetDefault("retry.rate_limit_max_delay", 15*time.Second)
	v.SetDefault("retry.rate_limit_max_wait", 2*time.Minute)

	v.SetDefault("pipeline.analyze_model", "mistralai/devstral-small-2507")
	v.SetDefault("pipeline.build_model", "qwen/qwen3-coder-30b")
	v.SetDefault("pipeline.max_tokens", 4096)
	v.SetDefault("pipeline.analyze_temperature", 0.0)
	v.SetDefault("pipeline.build_temperature", 0.0)
	v.SetDefault("pipeline.top_p", 1.0)
	v.SetDefault("pipeline.analyze_prompt", DefaultAnalyzePrompt)
	v.SetDefault("pipeline.build_prompt", DefaultBuildPrompt)
	v.SetDefault("pipeline.rebuild_prompt", DefaultRebuildPrompt)
	v.SetDefault("pipeline.json_reminder", DefaultJSONReminder)
	v.SetDefault("pipeline.validate_syntax", true)
	v.SetDefault("pipeline.log_payload_chars", 300)

	v.SetDefault("output.dir", "")
	v.SetDefault("output.extension", ".py")
	v.SetDefault("output.allowed_prefixes", []string{"pages/", "tests/"})
	v.SetDefault("output.allowed_names", []string{"conftest", "tests/conftest"})

	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.source_ext", ".py")
	v.SetDefault("batch.watch_debounce", 500*time.Millisecond)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

package main

import (
	"os"

	"github.com/matsen/texharvest/internal/arxiv"
	"github.com/matsen/texharvest/internal/collect"
	"github.com/matsen/texharvest/internal/config"
	"github.com/matsen/texharvest/internal/extract"
	"github.com/matsen/texharvest/internal/fetch"
	"github.com/matsen/texharvest/internal/logger"
	"github.com/matsen/texharvest/internal/pipeline"
	"github.com/matsen/texharvest/internal/ratelimit"
	"github.com/matsen/texharvest/internal/report"
	"github.com/matsen/texharvest/internal/s2"
)

const serviceName = "texharvest"

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.NewWithWriter(serviceName, os.Stderr, logger.ParseLevel(cfg.LogLevel))
}

// newExtractor builds the extractor from the extract section.
func newExtractor(cfg *config.Config, log *logger.Logger) (*extract.Extractor, error) {
	maxMember, err := cfg.Extract.MaxMemberBytes()
	if err != nil {
		return nil, err
	}
	return extract.New(
		extract.WithMaxDepth(cfg.Extract.MaxDepth),
		extract.WithMaxMemberSize(maxMember),
		extract.WithExtensions(cfg.Extract.MarkupExts, cfg.Extract.BibExts),
		extract.WithLogger(log),
	), nil
}

func newCollector(cfg *config.Config, log *logger.Logger) *collect.Collector {
	return collect.New(
		collect.WithExtensions(cfg.Extract.MarkupExts, cfg.Extract.BibExts),
		collect.WithLogger(log),
	)
}

// newPipeline wires both remote clients through one process-wide limiter.
func newPipeline(cfg *config.Config, log *logger.Logger, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	limiter := ratelimit.New(cfg.Delay)

	arxivFetch := fetch.NewClient(
		fetch.WithLimiter(limiter),
		fetch.WithTimeout(cfg.ArXiv.Timeout),
		fetch.WithPolicy(cfg.ArXiv.Retry.Apply(fetch.DefaultPolicy())),
		fetch.WithHeader("User-Agent", cfg.ArXiv.UserAgent),
		fetch.WithLogger(log),
	)
	s2Fetch := fetch.NewClient(
		fetch.WithLimiter(limiter),
		fetch.WithTimeout(cfg.S2.Timeout),
		fetch.WithPolicy(cfg.S2.Retry.Apply(fetch.BibliographicPolicy())),
		fetch.WithHeader("User-Agent", cfg.S2.UserAgent),
		fetch.WithHeader("x-api-key", cfg.S2.APIKey),
		fetch.WithLogger(log),
	)

	docs := arxiv.NewClient(arxivFetch, arxiv.WithBaseURL(cfg.ArXiv.BaseURL), arxiv.WithLogger(log))
	biblio := s2.NewClient(s2Fetch, s2.WithBaseURL(cfg.S2.BaseURL), s2.WithLogger(log))

	ext, err := newExtractor(cfg, log)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithExtractor(ext),
		pipeline.WithCollector(newCollector(cfg, log)),
		pipeline.WithFigureExts(cfg.Extract.FigureExts),
		pipeline.WithMetricsLog(report.NewMetricsLog(cfg.MetricsPath())),
		pipeline.WithTempDir(cfg.TempDir),
		pipeline.WithLogger(log),
	}
	return pipeline.New(docs, biblio, cfg.Output, append(opts, extra...)...), nil
}

/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context){
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    h := NewHandlers(cfg, log, svc)

    // Grafana SimpleJSON surface
    r.GET("/", h.Root)
    r.POST("/search", h.Search)
    r.POST("/query", h.Query)

    r.GET("/healthz", h.Healthz)
    r.GET("/metrics", gin.WrapH(promhttp.Handler()))
    r.POST("/admin/refresh", h.AdminRefresh)

    return r
}

// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/metrics"
	"github.com/cubefs/namespacedb/namespace"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/util"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30

	maxListNum = 1000
)

type HttpServer struct {
	httpServer *http.Server
	auditLog   auditlog.LogCloser

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

// Serve starts the admin endpoint. Audit logging is enabled when cfg
// carries a log directory.
func (h *HttpServer) Serve(addr string, cfg *auditlog.Config) error {
	handlers := []rpc.ProgressHandler{profile.NewProfileHandler(addr)}
	if cfg != nil && cfg.LogDir != "" {
		lh, logFile, err := auditlog.Open("NAMESPACEDB", cfg)
		if err != nil {
			return err
		}
		handlers = append(handlers, lh)
		h.auditLog = logFile
	}

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), handlers...),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
	return nil
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	if h.httpServer != nil {
		h.httpServer.Shutdown(ctx)
	}
	if h.auditLog != nil {
		h.auditLog.Close()
	}
}

func (h *HttpServer) newHandler() *rpc.Router {
	rpc.GET("/stat", h.Stat)
	rpc.GET("/inode", h.Inode, rpc.OptArgsQuery())
	rpc.GET("/list", h.List, rpc.OptArgsQuery())
	rpc.POST("/flush", h.Flush)

	metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	rpc.GET("/metrics", func(c *rpc.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})
	return rpc.DefaultRouter
}

type StatRet struct {
	Backend  string          `json:"backend"`
	Host     string          `json:"host,omitempty"`
	Marker   proto.Marker    `json:"marker"`
	Sessions interface{}     `json:"sessions,omitempty"`
	Pools    namespace.Stats `json:"pools"`
	Mounts   []string        `json:"mounts"`
}

func (h *HttpServer) Stat(c *rpc.Context) {
	ctx := c.Request.Context()
	marker, err := h.store.Marker(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	ret := &StatRet{
		Backend: string(h.store.Kind()),
		Marker:  marker,
		Pools:   h.ns.Stats(),
		Mounts:  h.resolver.Mounts(),
	}
	ret.Host, _ = util.GetLocalIP()
	if st, ok := h.store.(sessionStater); ok {
		ret.Sessions = st.SessionStats()
	}
	c.RespondJSON(ret)
}

type InodeRet struct {
	*proto.Inode
	Path  string `json:"path"`
	User  string `json:"user"`
	Group string `json:"group"`
	Mode  string `json:"mode"`
}

func (h *HttpServer) inodeRet(inode *proto.Inode) *InodeRet {
	user, group := h.ns.Owner(inode.Permission)
	return &InodeRet{
		Inode: inode, Path: inode.Path(), User: user, Group: group,
		Mode: strconv.FormatUint(uint64(inode.Permission.Mode()), 8),
	}
}

// Inode looks an inode up by id or, through the mount table, by path.
func (h *HttpServer) Inode(c *rpc.Context) {
	ctx := c.Request.Context()
	query := c.Request.URL.Query()

	var (
		inode *proto.Inode
		err   error
	)
	if v := query.Get("id"); v != "" {
		id, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			respondError(c, apierrors.Wrap(apierrors.ErrInvalidArgument, perr))
			return
		}
		inode, err = h.ns.GetInode(ctx, id)
	} else {
		handle, rerr := h.resolver.Resolve(ctx, query.Get("path"))
		if rerr != nil {
			respondError(c, rerr)
			return
		}
		inode, err = handle.Namespace.Resolve(ctx, handle.Path)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(h.inodeRet(inode))
}

type ListRet struct {
	Children []*InodeRet `json:"children"`
	Next     string      `json:"next,omitempty"`
}

func (h *HttpServer) List(c *rpc.Context) {
	ctx := c.Request.Context()
	query := c.Request.URL.Query()
	id, err := strconv.ParseUint(query.Get("id"), 10, 64)
	if err != nil {
		respondError(c, apierrors.Wrap(apierrors.ErrInvalidArgument, err))
		return
	}
	limit := maxListNum
	if v := query.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > maxListNum {
			limit = maxListNum
		}
	}

	children, err := h.ns.ListChildren(ctx, id, query.Get("marker"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	ret := &ListRet{Children: make([]*InodeRet, 0, len(children))}
	for _, child := range children {
		ret.Children = append(ret.Children, h.inodeRet(child))
	}
	if len(children) == limit {
		ret.Next = children[len(children)-1].Name
	}
	c.RespondJSON(ret)
}

func (h *HttpServer) Flush(c *rpc.Context) {
	if err := h.ns.Flush(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func respondError(c *rpc.Context, err error) {
	code := "Internal"
	if kind := apierrors.Kind(err); kind != nil {
		code = kind.Error()
	}
	c.RespondError(rpc.NewError(apierrors.HTTPStatus(err), code, err))
}

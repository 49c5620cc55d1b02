package handler

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/salonsano/internal/service"
	"go.uber.org/zap"
)

const (
	replicaSessionKey   = "replica_id"
	workspaceContextKey = "__workspace"
)

// ReplicaMiddleware 为每个浏览器分配匿名的 replica 标识（保存在签名 Cookie 会话中），
// 并把对应的工作区放入请求上下文。各浏览器的数据互相独立。
func (a *API) ReplicaMiddleware() gin.HandlerFunc {
	return a.replicaMiddleware(true)
}

// ExistingReplicaMiddleware 只在会话中已有 replica 标识时加载工作区，
// 不会为没有 Cookie 的访问者创建任何数据。
func (a *API) ExistingReplicaMiddleware() gin.HandlerFunc {
	return a.replicaMiddleware(false)
}

func (a *API) replicaMiddleware(mint bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		replicaID, _ := session.Get(replicaSessionKey).(string)
		if replicaID == "" {
			if !mint {
				c.Next()
				return
			}
			replicaID = uuid.NewString()
			session.Set(replicaSessionKey, replicaID)
			if err := session.Save(); err != nil {
				a.logger.Error("save replica session failed", zap.Error(err))
				respondError(c, http.StatusInternalServerError, a.text(c, "Session could not be saved", "שמירת ההפעלה נכשלה"))
				return
			}
		}

		ws, err := a.registry.Acquire(replicaID)
		if err != nil {
			a.logger.Error("open workspace failed", zap.String("replica", replicaID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, a.text(c, "Storage is unavailable", "האחסון אינו זמין"))
			return
		}
		defer a.registry.Release(ws)

		c.Set(workspaceContextKey, ws)
		c.Next()
	}
}

// workspace 返回 ReplicaMiddleware 放入的工作区，未挂载中间件属于编程错误。
func workspace(c *gin.Context) *service.Workspace {
	return c.MustGet(workspaceContextKey).(*service.Workspace)
}

// lookupWorkspace 返回可能不存在的工作区，供 ExistingReplicaMiddleware 之后的处理器使用。
func lookupWorkspace(c *gin.Context) (*service.Workspace, bool) {
	value, ok := c.Get(workspaceContextKey)
	if !ok {
		return nil, false
	}
	ws, ok := value.(*service.Workspace)
	return ws, ok
}

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/reservation"
	"github.com/danmuck/cellwarden/internal/warden"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type borrowBody struct {
	User     string `json:"user"`
	Key      string `json:"key"`
	Duration int    `json:"duration"`
	Spec     string `json:"spec"`
	Cell     string `json:"cell"`
}

type powerBody struct {
	User string `json:"user"`
	IP   string `json:"ip"`
	On   bool   `json:"on"`
}

type reservationView struct {
	Cell     string    `json:"cell"`
	User     string    `json:"user"`
	Start    time.Time `json:"start"`
	Deadline time.Time `json:"deadline"`
	Minutes  int       `json:"minutes"`
	Spec     string    `json:"spec"`
}

func viewOf(r reservation.Reservation) reservationView {
	return reservationView{
		Cell:     r.CellName,
		User:     r.UserName,
		Start:    r.Start.UTC(),
		Deadline: r.Deadline().UTC(),
		Minutes:  r.Duration,
		Spec:     r.Spec,
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": "cellwarden",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/cells", func(c *gin.Context) {
		ctx := c.Request.Context()
		available, err := s.engine.ListAvailable(ctx)
		if err != nil {
			abort(c, err)
			return
		}
		reserved, err := s.engine.ListReserved(ctx)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"cells":     s.engine.ListCells(),
			"available": available,
			"reserved":  reserved,
		})
	})

	s.router.GET("/reservations", func(c *gin.Context) {
		snapshot, err := s.engine.Snapshot(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		views := make([]reservationView, 0, len(snapshot))
		for _, r := range snapshot {
			views = append(views, viewOf(r))
		}
		c.JSON(http.StatusOK, gin.H{"reservations": views})
	})

	s.router.GET("/reservations/:user", func(c *gin.Context) {
		user := c.Param("user")
		r, err := s.engine.CurrentUserReservation(c.Request.Context(), user)
		if err != nil {
			abort(c, err)
			return
		}
		if r == nil {
			abort(c, fmt.Errorf("%w: user %s has no cell reservations", fault.ErrNotFound, user))
			return
		}
		c.JSON(http.StatusOK, viewOf(*r))
	})

	mutating := s.router.Group("", s.requireOperator())

	mutating.POST("/borrow", func(c *gin.Context) {
		var body borrowBody
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, fmt.Errorf("%w: %v", fault.ErrInvalidArgument, err))
			return
		}
		def, err := s.engine.BorrowCell(c.Request.Context(), warden.BorrowRequest{
			User:       body.User,
			Credential: body.Key,
			Minutes:    body.Duration,
			Spec:       body.Spec,
			Hint:       body.Cell,
		})
		if err != nil {
			abort(c, err)
			return
		}
		c.String(http.StatusOK, def)
	})

	mutating.DELETE("/borrow/:user", func(c *gin.Context) {
		user := c.Param("user")
		if err := s.engine.ReturnCell(c.Request.Context(), user); err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "user": user})
	})

	mutating.POST("/power", func(c *gin.Context) {
		var body powerBody
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, fmt.Errorf("%w: %v", fault.ErrInvalidArgument, err))
			return
		}
		out, err := s.engine.PowerControl(c.Request.Context(), body.User, body.IP, body.On)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "output": out})
	})
}

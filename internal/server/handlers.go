package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tablelift/cadence/internal/instance"
	"github.com/tablelift/cadence/internal/models"
	"github.com/tablelift/cadence/internal/sequences"
	"github.com/tablelift/cadence/internal/tasks"
)

// Template handlers.

func (s *Server) createTemplate(c *gin.Context) {
	var input sequences.CreateTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	tmpl, err := s.templates.CreateTemplate(c.Request.Context(), orgID(c), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) listTemplates(c *gin.Context) {
	tmpls, err := s.templates.ListTemplates(c.Request.Context(), orgID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": tmpls})
}

func (s *Server) getTemplate(c *gin.Context) {
	tmpl, err := s.templates.GetTemplate(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) updateTemplate(c *gin.Context) {
	var input sequences.UpdateTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	tmpl, err := s.templates.UpdateTemplate(c.Request.Context(), orgID(c), c.Param("id"), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	if err := s.templates.DeleteTemplate(c.Request.Context(), orgID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addStep(c *gin.Context) {
	var input sequences.StepInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	step, err := s.templates.AddStep(c.Request.Context(), orgID(c), c.Param("id"), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

func (s *Server) updateStep(c *gin.Context) {
	var input sequences.StepInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	step, err := s.templates.UpdateStep(c.Request.Context(), orgID(c), c.Param("id"), c.Param("stepID"), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

func (s *Server) deleteStep(c *gin.Context) {
	if err := s.templates.DeleteStep(c.Request.Context(), orgID(c), c.Param("id"), c.Param("stepID")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reorderSteps(c *gin.Context) {
	var input struct {
		StepIDs []string `json:"step_ids"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.templates.ReorderSteps(c.Request.Context(), orgID(c), c.Param("id"), input.StepIDs); err != nil {
		s.respondError(c, err)
		return
	}
	tmpl, err := s.templates.GetTemplate(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// Sequence instance handlers.

func (s *Server) startSequence(c *gin.Context) {
	var input instance.StartInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	result, err := s.instances.Start(c.Request.Context(), orgID(c), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) getSequence(c *gin.Context) {
	inst, err := s.instances.Get(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) listSequenceTasks(c *gin.Context) {
	list, err := s.tasks.ListForInstance(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (s *Server) pauseSequence(c *gin.Context) {
	s.sequenceTransition(c, s.instances.Pause)
}

func (s *Server) resumeSequence(c *gin.Context) {
	s.sequenceTransition(c, s.instances.Resume)
}

func (s *Server) cancelSequence(c *gin.Context) {
	s.sequenceTransition(c, s.instances.Cancel)
}

func (s *Server) sequenceTransition(c *gin.Context, fn func(ctx context.Context, orgID, id string) (*models.SequenceInstance, error)) {
	inst, err := fn(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// Task handlers.

func (s *Server) createTask(c *gin.Context) {
	var input tasks.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	task, err := s.tasks.Create(c.Request.Context(), orgID(c), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) completeTask(c *gin.Context) {
	task, err := s.tasks.Complete(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c *gin.Context) {
	task, err := s.tasks.Cancel(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.tasks.Delete(c.Request.Context(), orgID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Restaurant handlers.

func (s *Server) createRestaurant(c *gin.Context) {
	var rest models.Restaurant
	if err := c.ShouldBindJSON(&rest); err != nil {
		badRequest(c, err)
		return
	}
	rest.OrgID = orgID(c)
	if err := s.restaurants.Create(c.Request.Context(), &rest); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rest)
}

func (s *Server) getRestaurant(c *gin.Context) {
	rest, err := s.restaurants.Get(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rest)
}

func (s *Server) listRestaurantTasks(c *gin.Context) {
	list, err := s.tasks.ListForRestaurant(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (s *Server) listRestaurantSequences(c *gin.Context) {
	list, err := s.instances.ListForRestaurant(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequences": list})
}

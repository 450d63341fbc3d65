package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"
)

// ---------- CleanupFailedBackupsWorkflow ----------

type CleanupFailedBackupsWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *CleanupFailedBackupsWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *CleanupFailedBackupsWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CleanupFailedBackupsWorkflowTestSuite) TestSuccess() {
	s.env.OnActivity("CleanupFailedBackups", mock.Anything, 48*time.Hour).Return(int64(3), nil)

	s.env.ExecuteWorkflow(CleanupFailedBackupsWorkflow, 48*time.Hour)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CleanupFailedBackupsWorkflowTestSuite) TestDefaultRetention() {
	s.env.OnActivity("CleanupFailedBackups", mock.Anything, DefaultFailedBackupRetention).Return(int64(0), nil)

	s.env.ExecuteWorkflow(CleanupFailedBackupsWorkflow, time.Duration(0))
	s.NoError(s.env.GetWorkflowError())
}

func (s *CleanupFailedBackupsWorkflowTestSuite) TestDeleteFails() {
	s.env.OnActivity("CleanupFailedBackups", mock.Anything, mock.Anything).Return(int64(0), fmt.Errorf("db error"))

	s.env.ExecuteWorkflow(CleanupFailedBackupsWorkflow, 48*time.Hour)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

// ---------- Run ----------

func TestCleanupFailedBackupsWorkflow(t *testing.T) {
	suite.Run(t, new(CleanupFailedBackupsWorkflowTestSuite))
}

package exception

import (
	"sdp/ordercore/internal/app/domains/repo/rpexception"
	"sdp/ordercore/internal/app/domains/services/svexception"
	"sdp/ordercore/internal/app/pkg/logger"
)

// ExceptionHandler 异常 HTTP 处理器
type ExceptionHandler struct {
	classifier    *svexception.Classifier
	exceptionRepo rpexception.ExceptionRepository
	logger        logger.Logger
}

// NewExceptionHandler 创建异常处理器实例
func NewExceptionHandler(classifier *svexception.Classifier, exceptionRepo rpexception.ExceptionRepository, log logger.Logger) *ExceptionHandler {
	return &ExceptionHandler{
		classifier:    classifier,
		exceptionRepo: exceptionRepo,
		logger:        log,
	}
}

package token

import (
	"arbiter/internal/platform/middleware"
)

// ServiceAdapter lets a Service satisfy middleware.OperatorVerifier.
type ServiceAdapter struct {
	service *Service
}

func NewServiceAdapter(service *Service) *ServiceAdapter {
	return &ServiceAdapter{service: service}
}

func (a *ServiceAdapter) VerifyOperator(tokenString string) (*middleware.OperatorClaims, error) {
	claims, err := a.service.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.OperatorClaims{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}

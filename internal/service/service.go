// Package service реализует бизнес-логику сервиса доставки воды.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/temirlan-k/water-microservice/internal/model"
	"github.com/temirlan-k/water-microservice/internal/repository"
)

// bonusRateCents — начисление за одного проживающего в сотых долях бутыли.
const bonusRateCents int64 = 250

// ErrNoDistrict возвращается при попытке оформить заказ без указанного района.
var (
	ErrNoDistrict = errors.New("district is not set")
	// ErrCodeExpired возвращается при предъявлении просроченного кода подтверждения.
	ErrCodeExpired = errors.New("redemption code expired")
	// ErrAlreadyClient возвращается при попытке курьера зарегистрироваться как клиент и наоборот.
	ErrAlreadyClient = errors.New("already registered as client")
	// ErrAlreadyCourier возвращается при попытке клиента зарегистрироваться как курьер и наоборот.
	ErrAlreadyCourier = errors.New("already registered as courier")
	// ErrNotifierDisabled возвращается, если отправка сообщений в Telegram не настроена.
	ErrNotifierDisabled = errors.New("telegram notifier is not configured")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	FindUser(ctx context.Context, id int64) (*model.User, error)
	UpsertUser(ctx context.Context, u model.User) error
	FindCourier(ctx context.Context, id int64) (*model.Courier, error)
	InsertCourier(ctx context.Context, c model.Courier) error
	FindCourierByDistrict(ctx context.Context, district string) (*model.Courier, error)
	UpsertResidents(ctx context.Context, res model.Residents, balanceCents int64) error
	GetBalance(ctx context.Context, userID int64) (int64, error)
	AddToBalance(ctx context.Context, userID int64, deltaCents int64) (int64, error)
	DeductFromBalance(ctx context.Context, userID int64, deltaCents int64) (int64, error)
	InsertOrder(ctx context.Context, clientID, courierID int64, description string) (*model.Order, error)
	FindActiveOrder(ctx context.Context, clientID int64) (*model.Order, error)
	InsertOrGetCode(ctx context.Context, userID, orderID int64, ttl time.Duration) (*model.RedemptionCode, error)
	FindCode(ctx context.Context, code string) (*model.RedemptionCode, error)
	CompleteOrder(ctx context.Context, orderID, courierID int64) error
}

// Notifier описывает исходящие сообщения в Telegram: уведомление курьера о
// новом заказе и пересылку обращения в чат поддержки.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, courierID int64, order model.Order, client model.User) error
	ForwardSupportMessage(ctx context.Context, fromID int64, text string) error
}

// Service содержит бизнес-логику сервиса доставки воды.
type Service struct {
	repo     Repository
	notifier Notifier
	codeTTL  time.Duration
}

// NewService создаёт новый сервис с указанным репозиторием и нотификатором.
// Нотификатор может быть nil, тогда исходящие сообщения отключены.
func NewService(repo Repository, notifier Notifier, codeTTL time.Duration) *Service {
	if codeTTL <= 0 {
		codeTTL = time.Hour
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		codeTTL:  codeTTL,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegistrationStatus проверяет, какая роль уже занята идентификатором чата.
// Роли клиента и курьера взаимоисключающие.
func (s *Service) RegistrationStatus(ctx context.Context, id int64) (model.RegistrationStatus, error) {
	_, err := s.repo.FindUser(ctx, id)
	switch {
	case err == nil:
		return model.RegistrationAlreadyClient, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return model.RegistrationEligible, err
	}

	_, err = s.repo.FindCourier(ctx, id)
	switch {
	case err == nil:
		return model.RegistrationAlreadyCourier, nil
	case !errors.Is(err, repository.ErrCourierNotFound):
		return model.RegistrationEligible, err
	}

	return model.RegistrationEligible, nil
}

// RegisterClient регистрирует клиента или обновляет его данные.
// Идентификатор, занятый курьером, зарегистрировать клиентом нельзя.
func (s *Service) RegisterClient(ctx context.Context, u model.User) error {
	status, err := s.RegistrationStatus(ctx, u.ID)
	if err != nil {
		return err
	}
	if status == model.RegistrationAlreadyCourier {
		return ErrAlreadyCourier
	}
	return s.repo.UpsertUser(ctx, u)
}

// RegisterCourier регистрирует нового курьера.
func (s *Service) RegisterCourier(ctx context.Context, c model.Courier) error {
	status, err := s.RegistrationStatus(ctx, c.TelegramID)
	if err != nil {
		return err
	}
	switch status {
	case model.RegistrationAlreadyClient:
		return ErrAlreadyClient
	case model.RegistrationAlreadyCourier:
		return repository.ErrCourierExists
	}
	return s.repo.InsertCourier(ctx, c)
}

// ClientProfile возвращает профиль клиента.
func (s *Service) ClientProfile(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.FindUser(ctx, id)
}

// CourierProfile возвращает профиль курьера.
func (s *Service) CourierProfile(ctx context.Context, id int64) (*model.Courier, error) {
	return s.repo.FindCourier(ctx, id)
}

// UpdateResidents перезаписывает данные о проживающих и пересчитывает бонусный
// баланс: (взрослые + дети + арендаторы) × 2.5 бутыли. Повторная отправка
// данных заменяет баланс, а не прибавляет к нему.
func (s *Service) UpdateResidents(ctx context.Context, userID int64, adults, children, renters int) (float64, error) {
	if adults < 0 || children < 0 || renters < 0 {
		return 0, errors.New("resident counts must be non-negative")
	}

	if _, err := s.repo.FindUser(ctx, userID); err != nil {
		return 0, err
	}

	balanceCents := int64(adults+children+renters) * bonusRateCents
	err := s.repo.UpsertResidents(ctx, model.Residents{
		UserID:   userID,
		Adults:   adults,
		Children: children,
		Renters:  renters,
	}, balanceCents)
	if err != nil {
		return 0, err
	}

	return float64(balanceCents) / 100, nil
}

// CreditBonus начисляет бонусы за дополнительных проживающих поверх текущего
// баланса и возвращает новое значение в бутылях.
func (s *Service) CreditBonus(ctx context.Context, userID int64, adults, children, renters int) (float64, error) {
	if adults < 0 || children < 0 || renters < 0 {
		return 0, errors.New("resident counts must be non-negative")
	}

	if _, err := s.repo.FindUser(ctx, userID); err != nil {
		return 0, err
	}

	deltaCents := int64(adults+children+renters) * bonusRateCents
	balance, err := s.repo.AddToBalance(ctx, userID, deltaCents)
	if err != nil {
		return 0, err
	}

	return float64(balance) / 100, nil
}

// DeductBonus списывает указанную сумму бонусов. Баланс не уходит ниже нуля:
// списание большее, чем баланс, оставляет ноль.
func (s *Service) DeductBonus(ctx context.Context, userID int64, sum float64) (float64, error) {
	deltaCents := int64(sum * 100)
	if deltaCents <= 0 {
		return 0, errors.New("deduct sum must be positive")
	}

	balance, err := s.repo.DeductFromBalance(ctx, userID, deltaCents)
	if err != nil {
		return 0, err
	}

	return float64(balance) / 100, nil
}

// Balance возвращает бонусный баланс клиента в бутылях. Для незарегистрированного
// или нового клиента возвращает 0 без ошибки.
func (s *Service) Balance(ctx context.Context, userID int64) (float64, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return float64(balance) / 100, nil
}

// PlaceOrder оформляет заказ на доставку: подбирает курьера по району клиента,
// создаёт заказ в статусе new и уведомляет курьера. Уведомление отправляется
// после записи заказа и не влияет на результат операции.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, description string) (*model.Order, *model.Courier, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user.District == "" {
		return nil, nil, ErrNoDistrict
	}

	courier, err := s.repo.FindCourierByDistrict(ctx, user.District)
	if err != nil {
		return nil, nil, err
	}

	order, err := s.repo.InsertOrder(ctx, userID, courier.TelegramID, description)
	if err != nil {
		return nil, nil, err
	}

	if s.notifier != nil {
		_ = s.notifier.NotifyNewOrder(ctx, courier.TelegramID, *order, *user)
	}

	return order, courier, nil
}

// ActiveOrder возвращает текущий заказ клиента в статусе new.
func (s *Service) ActiveOrder(ctx context.Context, userID int64) (*model.Order, error) {
	return s.repo.FindActiveOrder(ctx, userID)
}

// IssueCode выдаёт код подтверждения для активного заказа клиента. Повторный
// запрос в пределах срока жизни возвращает тот же код.
func (s *Service) IssueCode(ctx context.Context, userID int64) (*model.RedemptionCode, error) {
	order, err := s.repo.FindActiveOrder(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.InsertOrGetCode(ctx, userID, order.ID, s.codeTTL)
}

// RedeemCode подтверждает доставку по коду: проверяет срок жизни кода,
// закрывает привязанный к коду заказ, если он закреплён за предъявившим
// курьером, и обнуляет бонусный баланс клиента. Возвращает номер закрытого
// заказа и новый баланс.
func (s *Service) RedeemCode(ctx context.Context, code string, courierID int64) (int64, float64, error) {
	rec, err := s.repo.FindCode(ctx, code)
	if err != nil {
		return 0, 0, err
	}

	if time.Now().After(rec.ExpiresAt) {
		return 0, 0, ErrCodeExpired
	}

	if err := s.repo.CompleteOrder(ctx, rec.OrderID, courierID); err != nil {
		return 0, 0, err
	}

	return rec.OrderID, 0, nil
}

// ForwardSupport пересылает обращение пользователя в чат поддержки.
func (s *Service) ForwardSupport(ctx context.Context, fromID int64, text string) error {
	if s.notifier == nil {
		return ErrNotifierDisabled
	}
	return s.notifier.ForwardSupportMessage(ctx, fromID, text)
}

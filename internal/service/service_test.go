package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/temirlan-k/water-microservice/internal/model"
	"github.com/temirlan-k/water-microservice/internal/repository"
)

type stubRepo struct {
	user    *model.User
	userErr error

	courier    *model.Courier
	courierErr error

	upsertUserErr error
	upsertedUser  *model.User
	insertCourErr error
	insertedCour  *model.Courier

	districtCourier *model.Courier
	districtErr     error

	residents        *model.Residents
	residentsBalance int64
	residentsErr     error

	balance    int64
	balanceErr error

	addDelta  int64
	addResult int64
	addErr    error

	deductDelta  int64
	deductResult int64
	deductErr    error

	insertedOrder *model.Order
	insertOrdErr  error

	activeOrder *model.Order
	activeErr   error

	codeUserID  int64
	codeOrderID int64
	codeTTL     time.Duration
	code        *model.RedemptionCode
	codeErr     error

	foundCode    *model.RedemptionCode
	foundCodeErr error

	completeOrderID int64
	completeCourier int64
	completeErr     error
	completeCalls   int
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) FindUser(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) UpsertUser(ctx context.Context, u model.User) error {
	s.upsertedUser = &u
	return s.upsertUserErr
}

func (s *stubRepo) FindCourier(ctx context.Context, id int64) (*model.Courier, error) {
	return s.courier, s.courierErr
}

func (s *stubRepo) InsertCourier(ctx context.Context, c model.Courier) error {
	s.insertedCour = &c
	return s.insertCourErr
}

func (s *stubRepo) FindCourierByDistrict(ctx context.Context, district string) (*model.Courier, error) {
	return s.districtCourier, s.districtErr
}

func (s *stubRepo) UpsertResidents(ctx context.Context, res model.Residents, balanceCents int64) error {
	s.residents = &res
	s.residentsBalance = balanceCents
	return s.residentsErr
}

func (s *stubRepo) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, s.balanceErr
}

func (s *stubRepo) AddToBalance(ctx context.Context, userID int64, deltaCents int64) (int64, error) {
	s.addDelta = deltaCents
	return s.addResult, s.addErr
}

func (s *stubRepo) DeductFromBalance(ctx context.Context, userID int64, deltaCents int64) (int64, error) {
	s.deductDelta = deltaCents
	return s.deductResult, s.deductErr
}

func (s *stubRepo) InsertOrder(ctx context.Context, clientID, courierID int64, description string) (*model.Order, error) {
	if s.insertOrdErr != nil {
		return nil, s.insertOrdErr
	}
	if s.insertedOrder == nil {
		s.insertedOrder = &model.Order{
			ID:          1,
			ClientID:    clientID,
			CourierID:   courierID,
			Description: description,
			Status:      model.OrderStatusNew,
		}
	}
	return s.insertedOrder, nil
}

func (s *stubRepo) FindActiveOrder(ctx context.Context, clientID int64) (*model.Order, error) {
	return s.activeOrder, s.activeErr
}

func (s *stubRepo) InsertOrGetCode(ctx context.Context, userID, orderID int64, ttl time.Duration) (*model.RedemptionCode, error) {
	s.codeUserID = userID
	s.codeOrderID = orderID
	s.codeTTL = ttl
	return s.code, s.codeErr
}

func (s *stubRepo) FindCode(ctx context.Context, code string) (*model.RedemptionCode, error) {
	return s.foundCode, s.foundCodeErr
}

func (s *stubRepo) CompleteOrder(ctx context.Context, orderID, courierID int64) error {
	s.completeCalls++
	s.completeOrderID = orderID
	s.completeCourier = courierID
	return s.completeErr
}

type stubNotifier struct {
	notifiedCourier int64
	notifiedOrder   int64
	notifyErr       error

	supportFrom int64
	supportText string
}

func (n *stubNotifier) NotifyNewOrder(ctx context.Context, courierID int64, order model.Order, client model.User) error {
	n.notifiedCourier = courierID
	n.notifiedOrder = order.ID
	return n.notifyErr
}

func (n *stubNotifier) ForwardSupportMessage(ctx context.Context, fromID int64, text string) error {
	n.supportFrom = fromID
	n.supportText = text
	return nil
}

func TestUpdateResidents_ComputesBalance(t *testing.T) {
	repo := &stubRepo{user: &model.User{ID: 1}}
	svc := NewService(repo, nil, 0)

	balance, err := svc.UpdateResidents(context.Background(), 1, 2, 1, 0)
	if err != nil {
		t.Fatalf("UpdateResidents error: %v", err)
	}
	if balance != 7.5 {
		t.Fatalf("balance = %v, want 7.5", balance)
	}
	if repo.residentsBalance != 750 {
		t.Fatalf("stored balance = %d, want 750", repo.residentsBalance)
	}
	if repo.residents.Adults != 2 || repo.residents.Children != 1 || repo.residents.Renters != 0 {
		t.Fatalf("unexpected residents: %+v", repo.residents)
	}
}

func TestUpdateResidents_NotRegistered(t *testing.T) {
	repo := &stubRepo{userErr: repository.ErrUserNotFound}
	svc := NewService(repo, nil, 0)

	_, err := svc.UpdateResidents(context.Background(), 1, 1, 0, 0)
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateResidents_NegativeCounts(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, 0)

	if _, err := svc.UpdateResidents(context.Background(), 1, -1, 0, 0); err == nil {
		t.Fatalf("expected error for negative adults")
	}
}

func TestCreditBonus_AddsOnTop(t *testing.T) {
	repo := &stubRepo{
		user:      &model.User{ID: 1},
		addResult: 1000,
	}
	svc := NewService(repo, nil, 0)

	balance, err := svc.CreditBonus(context.Background(), 1, 1, 0, 0)
	if err != nil {
		t.Fatalf("CreditBonus error: %v", err)
	}
	if repo.addDelta != 250 {
		t.Fatalf("delta = %d, want 250", repo.addDelta)
	}
	if balance != 10.0 {
		t.Fatalf("balance = %v, want 10.0", balance)
	}
}

func TestDeductBonus_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, 0)

	if _, err := svc.DeductBonus(context.Background(), 1, -5); err == nil {
		t.Fatalf("expected error for negative sum")
	}
	if _, err := svc.DeductBonus(context.Background(), 1, 0); err == nil {
		t.Fatalf("expected error for zero sum")
	}
}

func TestBalance_DefaultsToZero(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, 0)

	balance, err := svc.Balance(context.Background(), 1)
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %v, want 0", balance)
	}
}

func TestRegisterClient_RejectsCourier(t *testing.T) {
	repo := &stubRepo{
		userErr: repository.ErrUserNotFound,
		courier: &model.Courier{TelegramID: 1},
	}
	svc := NewService(repo, nil, 0)

	err := svc.RegisterClient(context.Background(), model.User{ID: 1})
	if !errors.Is(err, ErrAlreadyCourier) {
		t.Fatalf("expected ErrAlreadyCourier, got %v", err)
	}
}

func TestRegisterClient_UpsertsExistingClient(t *testing.T) {
	repo := &stubRepo{user: &model.User{ID: 1, District: "A"}}
	svc := NewService(repo, nil, 0)

	err := svc.RegisterClient(context.Background(), model.User{ID: 1, District: "B"})
	if err != nil {
		t.Fatalf("RegisterClient error: %v", err)
	}
	if repo.upsertedUser == nil || repo.upsertedUser.District != "B" {
		t.Fatalf("user was not upserted: %+v", repo.upsertedUser)
	}
}

func TestRegisterCourier_RejectsClient(t *testing.T) {
	repo := &stubRepo{
		user:       &model.User{ID: 1},
		courierErr: repository.ErrCourierNotFound,
	}
	svc := NewService(repo, nil, 0)

	err := svc.RegisterCourier(context.Background(), model.Courier{TelegramID: 1})
	if !errors.Is(err, ErrAlreadyClient) {
		t.Fatalf("expected ErrAlreadyClient, got %v", err)
	}
}

func TestRegisterCourier_RejectsDuplicate(t *testing.T) {
	repo := &stubRepo{
		userErr: repository.ErrUserNotFound,
		courier: &model.Courier{TelegramID: 1},
	}
	svc := NewService(repo, nil, 0)

	err := svc.RegisterCourier(context.Background(), model.Courier{TelegramID: 1})
	if !errors.Is(err, repository.ErrCourierExists) {
		t.Fatalf("expected ErrCourierExists, got %v", err)
	}
}

func TestRegistrationStatus_Eligible(t *testing.T) {
	repo := &stubRepo{
		userErr:    repository.ErrUserNotFound,
		courierErr: repository.ErrCourierNotFound,
	}
	svc := NewService(repo, nil, 0)

	status, err := svc.RegistrationStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("RegistrationStatus error: %v", err)
	}
	if status != model.RegistrationEligible {
		t.Fatalf("status = %v, want RegistrationEligible", status)
	}
}

func TestPlaceOrder_NoDistrict(t *testing.T) {
	repo := &stubRepo{user: &model.User{ID: 1}}
	svc := NewService(repo, nil, 0)

	_, _, err := svc.PlaceOrder(context.Background(), 1, "19L bottle")
	if !errors.Is(err, ErrNoDistrict) {
		t.Fatalf("expected ErrNoDistrict, got %v", err)
	}
	if repo.insertedOrder != nil {
		t.Fatalf("order must not be created without district")
	}
}

func TestPlaceOrder_NoCourierAvailable(t *testing.T) {
	repo := &stubRepo{
		user:        &model.User{ID: 1, District: "A"},
		districtErr: repository.ErrNoCourierInDistrict,
	}
	svc := NewService(repo, nil, 0)

	_, _, err := svc.PlaceOrder(context.Background(), 1, "")
	if !errors.Is(err, repository.ErrNoCourierInDistrict) {
		t.Fatalf("expected ErrNoCourierInDistrict, got %v", err)
	}
	if repo.insertedOrder != nil {
		t.Fatalf("order must not be created without courier")
	}
}

func TestPlaceOrder_MatchesAndNotifies(t *testing.T) {
	repo := &stubRepo{
		user:            &model.User{ID: 1, District: "A"},
		districtCourier: &model.Courier{TelegramID: 77, District: "A"},
	}
	n := &stubNotifier{}
	svc := NewService(repo, n, 0)

	order, courier, err := svc.PlaceOrder(context.Background(), 1, "19L bottle")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if order.CourierID != 77 || courier.TelegramID != 77 {
		t.Fatalf("order assigned to courier %d, want 77", order.CourierID)
	}
	if n.notifiedCourier != 77 || n.notifiedOrder != order.ID {
		t.Fatalf("courier was not notified: %+v", n)
	}
}

func TestPlaceOrder_NotifyFailureDoesNotFail(t *testing.T) {
	repo := &stubRepo{
		user:            &model.User{ID: 1, District: "A"},
		districtCourier: &model.Courier{TelegramID: 77},
	}
	n := &stubNotifier{notifyErr: errors.New("telegram down")}
	svc := NewService(repo, n, 0)

	if _, _, err := svc.PlaceOrder(context.Background(), 1, ""); err != nil {
		t.Fatalf("PlaceOrder must not fail on notification error, got %v", err)
	}
}

func TestIssueCode_NoActiveOrder(t *testing.T) {
	repo := &stubRepo{activeErr: repository.ErrNoMatchingOrder}
	svc := NewService(repo, nil, 0)

	_, err := svc.IssueCode(context.Background(), 1)
	if !errors.Is(err, repository.ErrNoMatchingOrder) {
		t.Fatalf("expected ErrNoMatchingOrder, got %v", err)
	}
}

func TestIssueCode_BindsActiveOrder(t *testing.T) {
	repo := &stubRepo{
		activeOrder: &model.Order{ID: 9, ClientID: 1, Status: model.OrderStatusNew},
		code: &model.RedemptionCode{
			Code:      "token",
			UserID:    1,
			OrderID:   9,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	svc := NewService(repo, nil, 30*time.Minute)

	code, err := svc.IssueCode(context.Background(), 1)
	if err != nil {
		t.Fatalf("IssueCode error: %v", err)
	}
	if repo.codeUserID != 1 || repo.codeOrderID != 9 {
		t.Fatalf("code bound to (%d, %d), want (1, 9)", repo.codeUserID, repo.codeOrderID)
	}
	if repo.codeTTL != 30*time.Minute {
		t.Fatalf("ttl = %v, want 30m", repo.codeTTL)
	}
	if code.Code != "token" {
		t.Fatalf("code = %q, want token", code.Code)
	}
}

func TestRedeemCode_NotFound(t *testing.T) {
	repo := &stubRepo{foundCodeErr: repository.ErrCodeNotFound}
	svc := NewService(repo, nil, 0)

	_, _, err := svc.RedeemCode(context.Background(), "missing", 77)
	if !errors.Is(err, repository.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestRedeemCode_Expired(t *testing.T) {
	repo := &stubRepo{
		foundCode: &model.RedemptionCode{
			Code:      "old",
			UserID:    1,
			OrderID:   9,
			ExpiresAt: time.Now().Add(-time.Minute),
		},
	}
	svc := NewService(repo, nil, 0)

	_, _, err := svc.RedeemCode(context.Background(), "old", 77)
	if !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if repo.completeCalls != 0 {
		t.Fatalf("expired code must not complete the order")
	}
}

func TestRedeemCode_CompletesAndZeroes(t *testing.T) {
	repo := &stubRepo{
		foundCode: &model.RedemptionCode{
			Code:      "live",
			UserID:    1,
			OrderID:   9,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	svc := NewService(repo, nil, 0)

	orderID, balance, err := svc.RedeemCode(context.Background(), "live", 77)
	if err != nil {
		t.Fatalf("RedeemCode error: %v", err)
	}
	if orderID != 9 {
		t.Fatalf("orderID = %d, want 9", orderID)
	}
	if balance != 0 {
		t.Fatalf("balance = %v, want 0", balance)
	}
	if repo.completeOrderID != 9 || repo.completeCourier != 77 {
		t.Fatalf("complete called with (%d, %d), want (9, 77)", repo.completeOrderID, repo.completeCourier)
	}
}

func TestRedeemCode_AlreadyCompleted(t *testing.T) {
	repo := &stubRepo{
		foundCode: &model.RedemptionCode{
			Code:      "live",
			UserID:    1,
			OrderID:   9,
			ExpiresAt: time.Now().Add(time.Hour),
		},
		completeErr: repository.ErrNoMatchingOrder,
	}
	svc := NewService(repo, nil, 0)

	_, _, err := svc.RedeemCode(context.Background(), "live", 77)
	if !errors.Is(err, repository.ErrNoMatchingOrder) {
		t.Fatalf("expected ErrNoMatchingOrder, got %v", err)
	}
}

func TestForwardSupport_NotifierDisabled(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, 0)

	err := svc.ForwardSupport(context.Background(), 1, "question")
	if !errors.Is(err, ErrNotifierDisabled) {
		t.Fatalf("expected ErrNotifierDisabled, got %v", err)
	}
}

func TestForwardSupport_Delivers(t *testing.T) {
	n := &stubNotifier{}
	svc := NewService(&stubRepo{}, n, 0)

	if err := svc.ForwardSupport(context.Background(), 5, "no water"); err != nil {
		t.Fatalf("ForwardSupport error: %v", err)
	}
	if n.supportFrom != 5 || n.supportText != "no water" {
		t.Fatalf("support message not forwarded: %+v", n)
	}
}
